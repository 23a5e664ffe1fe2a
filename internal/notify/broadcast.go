package notify

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/multierr"

	"github.com/xenking/bookshop/internal/domain/order"
)

// Real-time groups receiving order events.
const (
	GroupAdmins = "admins"
	GroupStaff  = "staff"
)

// Broadcaster pushes an event to every connection in a group.
type Broadcaster interface {
	Broadcast(group string, e order.Event) error
}

// BroadcastHandler forwards placed and fulfilled events to the admin and
// staff groups.
func BroadcastHandler(b Broadcaster) Handler {
	return func(_ context.Context, e order.Event) error {
		switch e.Kind {
		case order.EventPlaced, order.EventFulfilled:
		default:
			return nil
		}
		var err error
		for _, g := range []string{GroupAdmins, GroupStaff} {
			if berr := b.Broadcast(g, e); berr != nil {
				err = multierr.Append(err, errors.Wrapf(berr, "broadcast to %s", g))
			}
		}
		return err
	}
}
