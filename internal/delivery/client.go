package delivery

import "context"

//go:generate mockgen -source=client.go -destination=mocks/mock_client.go -package=mocks

// Client performs the actual message transmission. Implementations live in
// the host application; the engine treats delivery as at-least-once and does
// not deduplicate. A context deadline is the only cancellation mechanism,
// and a timed-out call counts as a failure.
type Client interface {
	Deliver(ctx context.Context, userID, templateID string, personalization map[string]any) error
}
