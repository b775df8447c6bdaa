package server

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoginLink is an edit link addressed to the owner of a memory.
type LoginLink struct {
	Email     string
	CodeUUID  string
	URL       string
	ExpiresAt time.Time
}

// LinkNotifier delivers login links to their recipients.
type LinkNotifier interface {
	DeliverLoginLink(ctx context.Context, link LoginLink) error
}

// LogNotifier records login links in the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// DeliverLoginLink logs the link.
func (n *LogNotifier) DeliverLoginLink(_ context.Context, link LoginLink) error {
	n.logger.Info("login link issued",
		zap.String("email", link.Email),
		zap.String("code", link.CodeUUID),
		zap.String("url", link.URL),
		zap.Time("expires_at", link.ExpiresAt))
	return nil
}
