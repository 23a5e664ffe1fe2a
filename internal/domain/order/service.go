package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/claimcode"
	"github.com/xenking/bookshop/internal/domain/discount"
	"github.com/xenking/bookshop/internal/validation"
)

// maxCodeAttempts bounds how many fresh claim codes Place tries before
// giving up on a collision.
const maxCodeAttempts = 5

// Service runs the order workflow: placement, cancellation and in-store
// collection by claim code.
type Service struct {
	store  Store
	events Publisher

	tracer  trace.Tracer
	placed  metric.Int64Counter
	cancels metric.Int64Counter
	claims  metric.Int64Counter
	failed  metric.Int64Counter

	newCode func() (string, error)
	now     func() time.Time
}

// Option configures a Service.
type Option func(*options)

type options struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithTracerProvider sets the provider used for order spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMeterProvider sets the provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// NewService creates an order Service. Events are published after each
// transaction commits.
func NewService(store Store, events Publisher, opts ...Option) (*Service, error) {
	o := options{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	const scope = "github.com/xenking/bookshop/internal/domain/order"
	meter := o.meterProvider.Meter(scope)
	s := &Service{
		store:   store,
		events:  events,
		tracer:  o.tracerProvider.Tracer(scope),
		newCode: claimcode.Generate,
		now:     time.Now,
	}

	var err error
	if s.placed, err = meter.Int64Counter("bookshop.orders.placed",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders placed counter")
	}
	if s.cancels, err = meter.Int64Counter("bookshop.orders.cancelled",
		metric.WithDescription("Orders cancelled"),
	); err != nil {
		return nil, errors.Wrap(err, "orders cancelled counter")
	}
	if s.claims, err = meter.Int64Counter("bookshop.orders.claimed",
		metric.WithDescription("Orders collected by claim code"),
	); err != nil {
		return nil, errors.Wrap(err, "orders claimed counter")
	}
	if s.failed, err = meter.Int64Counter("bookshop.notifications.failed",
		metric.WithDescription("Order events that could not be published"),
	); err != nil {
		return nil, errors.Wrap(err, "notifications failed counter")
	}
	return s, nil
}

// Place turns the user's cart into a pending order. Stock is decremented,
// the loyalty flag is consumed when the loyalty rate applied, and the cart
// is cleared, all in one transaction.
func (s *Service) Place(ctx context.Context, userID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return nil, spanError(span, errors.Wrap(err, "generate claim code"))
		}

		o, buyer, err := s.place(ctx, userID, code)
		switch {
		case err == nil:
			span.SetAttributes(attribute.String("order.id", o.ID))
			s.placed.Add(ctx, 1)
			s.publish(ctx, Event{Kind: EventPlaced, Order: *o, Buyer: *buyer, At: o.CreatedAt})
			return o, nil
		case errors.Is(err, ErrClaimCodeTaken) && attempt < maxCodeAttempts:
			zctx.From(ctx).Warn("Claim code collision, retrying",
				zap.Int("attempt", attempt),
			)
		default:
			return nil, spanError(span, err)
		}
	}
}

func (s *Service) place(ctx context.Context, userID, code string) (*Order, *Buyer, error) {
	var (
		o     *Order
		buyer *Buyer
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		// The buyer row lock serialises placements from the same user, so a
		// resubmitted checkout sees the cart its twin already cleared.
		var err error
		if buyer, err = tx.Buyer(ctx, userID); err != nil {
			return errors.Wrap(err, "load buyer")
		}

		lines, err := tx.CartLines(ctx, userID)
		if err != nil {
			return errors.Wrap(err, "load cart")
		}
		if len(lines) == 0 {
			return ErrEmptyCart
		}
		for _, l := range lines {
			if l.Quantity > l.Book.Stock {
				return &InsufficientStockError{
					BookID:    l.Book.ID,
					Title:     l.Book.Title,
					Requested: l.Quantity,
					Available: l.Book.Stock,
				}
			}
		}

		now := s.now().UTC()
		quote := discount.Evaluate(lines, buyer.Loyalty, now)

		o = &Order{
			ID:              uuid.NewString(),
			UserID:          userID,
			Items:           make([]Item, len(quote.Lines)),
			Subtotal:        quote.Subtotal,
			DiscountAmount:  quote.DiscountAmount,
			FinalAmount:     quote.FinalAmount,
			BulkDiscount:    quote.BulkApplied,
			LoyaltyDiscount: quote.LoyaltyApplied,
			Status:          StatusPending,
			ClaimCode:       code,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if quote.LoyaltyApplied {
			o.LoyaltyMilestone = buyer.Loyalty.SuccessfulOrders
		}
		for i, l := range quote.Lines {
			o.Items[i] = Item{
				BookID:       l.BookID,
				Title:        l.Title,
				Quantity:     l.Quantity,
				UnitPrice:    l.ListPrice,
				UnitDiscount: l.UnitDiscount,
			}
		}

		if err := tx.Insert(ctx, o); err != nil {
			return err
		}
		for _, l := range lines {
			if err := tx.AdjustStock(ctx, l.Book.ID, -l.Quantity); err != nil {
				return err
			}
		}
		if quote.LoyaltyApplied {
			if err := tx.SaveLoyalty(ctx, userID, quote.Loyalty); err != nil {
				return errors.Wrap(err, "save loyalty")
			}
			buyer.Loyalty = quote.Loyalty
		}
		if err := tx.ClearCart(ctx, userID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return o, buyer, nil
}

// Cancel cancels a pending order, puts its copies back on the shelf and
// returns a consumed loyalty discount to the buyer.
func (s *Service) Cancel(ctx context.Context, id string, actor Actor) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Cancel",
		trace.WithAttributes(attribute.String("order.id", id)),
	)
	defer span.End()

	var o *Order
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.Lock(ctx, id); err != nil {
			return err
		}
		if !actor.canAccess(o) {
			return ErrForbidden
		}
		if o.Status != StatusPending {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
		}

		if o.LoyaltyDiscount {
			buyer, err := tx.Buyer(ctx, o.UserID)
			if err != nil {
				return errors.Wrap(err, "load buyer")
			}
			// A later milestone's discount is not this order's to give back.
			if l, ok := buyer.Loyalty.Refunded(o.LoyaltyMilestone); ok {
				if err := tx.SaveLoyalty(ctx, o.UserID, l); err != nil {
					return errors.Wrap(err, "restore loyalty")
				}
			}
		}
		for _, it := range o.Items {
			if err := tx.AdjustStock(ctx, it.BookID, it.Quantity); err != nil {
				return errors.Wrapf(err, "restore stock for %s", it.BookID)
			}
		}

		now := s.now().UTC()
		o.Status = StatusCancelled
		o.CancelledAt = &now
		o.UpdatedAt = now
		return tx.Update(ctx, o)
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	s.cancels.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("actor_id", actor.UserID),
	)
	return o, nil
}

// Claim completes the pending order holding code. The code is single use and
// collecting the order advances the buyer's loyalty count.
func (s *Service) Claim(ctx context.Context, code, staffID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Claim")
	defer span.End()

	code = claimcode.Normalize(code)
	if !claimcode.Valid(code) {
		return nil, spanError(span, ErrClaimCodeNotFound)
	}

	var (
		o     *Order
		buyer *Buyer
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if o, err = tx.LockByClaimCode(ctx, code); err != nil {
			return err
		}
		if o.ClaimCodeUsed {
			return ErrClaimCodeUsed
		}
		if o.Status != StatusPending {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: StatusCompleted}
		}

		if buyer, err = tx.Buyer(ctx, o.UserID); err != nil {
			return errors.Wrap(err, "load buyer")
		}
		buyer.Loyalty = buyer.Loyalty.Fulfilled()
		if err := tx.SaveLoyalty(ctx, o.UserID, buyer.Loyalty); err != nil {
			return errors.Wrap(err, "save loyalty")
		}

		now := s.now().UTC()
		o.Status = StatusCompleted
		o.ClaimCodeUsed = true
		o.FulfilledBy = staffID
		o.FulfilledAt = &now
		o.UpdatedAt = now
		return tx.Update(ctx, o)
	})
	if err != nil {
		return nil, spanError(span, err)
	}

	span.SetAttributes(attribute.String("order.id", o.ID))
	s.claims.Add(ctx, 1)
	s.publish(ctx, Event{Kind: EventFulfilled, Order: *o, Buyer: *buyer, At: *o.FulfilledAt})
	return o, nil
}

// Get returns an order the actor is allowed to see.
func (s *Service) Get(ctx context.Context, id string, actor Actor) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canAccess(o) {
		// Hide the existence of other users' orders.
		return nil, ErrNotFound
	}
	return o, nil
}

// ListForUser returns the user's own orders, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Order, error) {
	return s.store.List(ctx, ListQuery{UserID: userID})
}

// List returns orders across all users.
func (s *Service) List(ctx context.Context, q ListQuery) ([]Order, error) {
	errs := validation.Errors{}
	errs.Check(q.Status == "" || q.Status.Valid(), "status", "unknown order status")
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, q)
}

func (s *Service) publish(ctx context.Context, e Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, e); err != nil {
		s.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("event", string(e.Kind))))
		zctx.From(ctx).Error("Publish order event",
			zap.String("event", string(e.Kind)),
			zap.String("order_id", e.Order.ID),
			zap.Error(err),
		)
	}
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
