package alerting

import (
	"context"
	"errors"
)

// ErrDeliveryFailed indicates a channel accepted the message but could not
// deliver it. Failed deliveries never consume notification budget.
var ErrDeliveryFailed = errors.New("alerting: delivery failed")

// Channel delivers a rendered alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
