package location

import (
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/kneadly/internal/booking/domain"
)

// Server ingests provider heartbeats and refreshes the provider-keyed
// snapshot. Booking-scoped updates (with ETA and fan-out) go through the
// booking service instead.
type Server struct {
	store  domain.LocationStore
	logger *zap.Logger
}

// NewServer constructs a server.
func NewServer(store domain.LocationStore, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: store, logger: logger}
}

// StreamLocation consumes heartbeats until the client closes the stream.
// Malformed ids are skipped; cache write failures are logged and the stream
// continues, since the next heartbeat supersedes the lost one anyway.
func (s *Server) StreamLocation(stream Tracking_StreamLocationServer) error {
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&Ack{})
		}
		if err != nil {
			return err
		}
		providerID, err := uuid.Parse(msg.ProviderId)
		if err != nil {
			continue
		}
		point := domain.GeoPoint{Lat: msg.Lat, Lng: msg.Lng}
		if err := s.store.SetProviderLocation(stream.Context(), providerID, point); err != nil {
			s.logger.Warn("heartbeat write failed", zap.Error(err), zap.String("provider_id", msg.ProviderId))
		}
	}
}
