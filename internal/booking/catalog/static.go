// Package catalog provides a process-local implementation of the offering
// lookup. Production deployments inject a client for the provider catalog
// service instead.
package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/example/kneadly/internal/booking/domain"
)

type offeringKey struct {
	providerID uuid.UUID
	serviceID  uuid.UUID
}

// Static holds offerings in memory, priced per duration.
type Static struct {
	mu        sync.RWMutex
	offerings map[offeringKey]map[int]int64
}

// NewStatic builds an empty catalog.
func NewStatic() *Static {
	return &Static{offerings: make(map[offeringKey]map[int]int64)}
}

// Add registers a provider's offering of a service at a price for one
// duration.
func (s *Static) Add(providerID, serviceID uuid.UUID, durationMin int, amountCents int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := offeringKey{providerID: providerID, serviceID: serviceID}
	if s.offerings[key] == nil {
		s.offerings[key] = make(map[int]int64)
	}
	s.offerings[key][durationMin] = amountCents
}

// Price satisfies domain.Catalog.
func (s *Static) Price(_ context.Context, providerID, serviceID uuid.UUID, durationMin int) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	durations, ok := s.offerings[offeringKey{providerID: providerID, serviceID: serviceID}]
	if !ok {
		return 0, domain.ErrServiceNotOffered
	}
	amount, ok := durations[durationMin]
	if !ok {
		return 0, domain.ErrServiceNotOffered
	}
	return amount, nil
}
