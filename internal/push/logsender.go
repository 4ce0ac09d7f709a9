package push

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogSender is the transport of last resort: it logs instead of pushing.
// Deployments without push credentials still drain the dispatch queue.
type LogSender struct {
	Logger *zap.Logger
}

// Push satisfies domain.PushSender.
func (s LogSender) Push(_ context.Context, userID uuid.UUID, title, body string, _ map[string]any) error {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("push (log transport)",
		zap.String("user_id", userID.String()),
		zap.String("title", title),
		zap.String("body", body))
	return nil
}
