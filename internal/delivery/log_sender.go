package delivery

import (
	"context"

	"github.com/mattjoyce/herald/internal/log"
)

// LogSender is the built-in Client used when herald runs standalone. It
// records each delivery instead of transmitting anything; hosts embedding
// the engine supply a real Client.
type LogSender struct{}

var _ Client = LogSender{}

func (LogSender) Deliver(_ context.Context, userID, templateID string, personalization map[string]any) error {
	log.WithComponent("delivery").Info("delivery (log only)",
		"user_id", userID,
		"template", templateID,
		"personalization_keys", len(personalization))
	return nil
}
