package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
)

type offeringFile struct {
	ProviderID  string `json:"provider_id"`
	ServiceID   string `json:"service_id"`
	DurationMin int    `json:"duration_min"`
	AmountCents int64  `json:"amount_cents"`
}

// LoadFile reads offerings from a JSON array on disk into a Static catalog.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var entries []offeringFile
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	s := NewStatic()
	for i, e := range entries {
		providerID, err := uuid.Parse(e.ProviderID)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: provider_id: %w", i, err)
		}
		serviceID, err := uuid.Parse(e.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: service_id: %w", i, err)
		}
		if e.DurationMin <= 0 || e.AmountCents <= 0 {
			return nil, fmt.Errorf("catalog entry %d: duration and amount must be positive", i)
		}
		s.Add(providerID, serviceID, e.DurationMin, e.AmountCents)
	}
	return s, nil
}
