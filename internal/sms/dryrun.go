package sms

import (
	"context"

	"leadlock_backend/internal/leads/ports"
	"leadlock_backend/platform/logger"

	"github.com/google/uuid"
)

// DryRun logs messages instead of sending them. It is used when no SMS
// credentials are configured.
type DryRun struct {
	log *logger.Logger
}

var _ ports.Transport = (*DryRun)(nil)

func NewDryRun(log *logger.Logger) *DryRun {
	return &DryRun{log: log}
}

func (d *DryRun) Send(_ context.Context, msg ports.OutboundMessage) (ports.ProviderResult, error) {
	segments := Segments(msg.Body)
	id := "dryrun-" + uuid.NewString()
	d.log.Info("sms: dry run, message not sent", "providerMessageId", id, "to", msg.To, "segments", segments)
	return ports.ProviderResult{MessageID: id, Segments: segments}, nil
}
