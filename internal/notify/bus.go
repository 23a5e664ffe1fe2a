// Package notify fans order events out to subscribers after the order
// transaction commits. Delivery is best effort: subscriber failures are
// logged and counted, never retried.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xenking/bookshop/internal/domain/order"
)

const metaKind = "kind"

// Config selects the transport. Events stay in process unless Brokers is set.
type Config struct {
	Brokers       []string `usage:"kafka brokers, in-process delivery when empty"`
	Topic         string   `default:"bookshop.orders" usage:"topic for order events"`
	ConsumerGroup string   `default:"bookshop" usage:"kafka consumer group prefix"`
	Buffer        int64    `default:"256" usage:"in-process subscriber buffer"`
}

// Handler processes one order event.
type Handler func(ctx context.Context, e order.Event) error

// Bus publishes order events and dispatches them to named handlers. Every
// handler sees every event.
type Bus struct {
	topic  string
	lg     *zap.Logger
	pub    message.Publisher
	newSub func(name string) (message.Subscriber, error)
	router *message.Router
	failed metric.Int64Counter
}

var _ order.Publisher = (*Bus)(nil)

// NewBus creates a bus on the configured transport.
func NewBus(cfg Config, lg *zap.Logger, mp metric.MeterProvider) (*Bus, error) {
	wlg := NewLogger(lg)
	b := &Bus{topic: cfg.Topic, lg: lg}

	if len(cfg.Brokers) == 0 {
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.Buffer,
		}, wlg)
		b.pub = ch
		b.newSub = func(string) (message.Subscriber, error) { return ch, nil }
	} else {
		pub, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:   cfg.Brokers,
			Marshaler: kafka.DefaultMarshaler{},
		}, wlg)
		if err != nil {
			return nil, errors.Wrap(err, "kafka publisher")
		}
		b.pub = pub
		b.newSub = func(name string) (message.Subscriber, error) {
			sc := kafka.DefaultSaramaSubscriberConfig()
			sc.Consumer.Offsets.Initial = sarama.OffsetOldest
			return kafka.NewSubscriber(kafka.SubscriberConfig{
				Brokers:               cfg.Brokers,
				Unmarshaler:           kafka.DefaultMarshaler{},
				OverwriteSaramaConfig: sc,
				// One group per handler so each handler receives all events.
				ConsumerGroup: cfg.ConsumerGroup + "." + name,
			}, wlg)
		}
	}

	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 10 * time.Second,
	}, wlg)
	if err != nil {
		return nil, errors.Wrap(err, "create router")
	}
	router.AddMiddleware(middleware.Recoverer)
	b.router = router

	meter := mp.Meter("github.com/xenking/bookshop/internal/notify")
	if b.failed, err = meter.Int64Counter("bookshop.notifications.failed",
		metric.WithDescription("Order event handlers that failed"),
	); err != nil {
		return nil, errors.Wrap(err, "notifications failed counter")
	}
	return b, nil
}

// Publish enqueues e. It does not wait for handlers.
func (b *Bus) Publish(ctx context.Context, e order.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(metaKind, string(e.Kind))
	msg.SetContext(context.WithoutCancel(ctx))

	if err := b.pub.Publish(b.topic, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Kind)
	}
	return nil
}

// Subscribe registers h under name. Call before Run.
func (b *Bus) Subscribe(name string, h Handler) error {
	sub, err := b.newSub(name)
	if err != nil {
		return errors.Wrapf(err, "subscriber %s", name)
	}
	b.router.AddNoPublisherHandler(name, b.topic, sub, func(msg *message.Message) error {
		lg := b.lg.With(
			zap.String("handler", name),
			zap.String("message_uuid", msg.UUID),
			zap.String("kind", msg.Metadata.Get(metaKind)),
		)
		ctx := zctx.Base(msg.Context(), lg)

		var e order.Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			b.fail(ctx, name, errors.Wrap(err, "unmarshal event"))
			return nil
		}
		if err := h(ctx, e); err != nil {
			b.fail(ctx, name, err)
		}
		return nil
	})
	return nil
}

func (b *Bus) fail(ctx context.Context, handler string, err error) {
	b.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("handler", handler)))
	zctx.From(ctx).Error("Order event handler failed", zap.Error(err))
}

// Run dispatches events until ctx is done or Close is called.
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once handlers are subscribed and receiving.
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the publisher.
func (b *Bus) Close() error {
	var err error
	if cerr := b.router.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close router"))
	}
	if cerr := b.pub.Close(); cerr != nil {
		err = multierr.Append(err, errors.Wrap(cerr, "close publisher"))
	}
	return err
}
