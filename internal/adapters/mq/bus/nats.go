package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/okian/topkboard/pkg/logger"
	"github.com/okian/topkboard/pkg/metrics"
)

// Default NATS settings.
const (
	defaultMaxReconnects = 60
	defaultReconnectWait = 2 * time.Second
	defaultDuplicates    = 2 * time.Minute
	defaultMaxAge        = time.Hour
)

// JetStream is the part of jetstream.JetStream the bus uses.
type JetStream interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Subscription is an active core NATS subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is the part of a core NATS connection the bus uses.
type Conn interface {
	Subscribe(subject string, cb nats.MsgHandler) (Subscription, error)
	Close()
}

// NATSBus publishes change-feed messages to a JetStream stream and listens
// for resync requests over core NATS.
type NATSBus struct {
	conn     Conn
	js       JetStream
	stream   string
	subjects Subjects

	mu     sync.Mutex
	subs   []Subscription
	closed bool

	log logger.Logger
}

// NATSOption configures a NATSBus.
type NATSOption func(*natsOptions)

type natsOptions struct {
	name          string
	maxReconnects int
	reconnectWait time.Duration
	duplicates    time.Duration
	maxAge        time.Duration
	log           logger.Logger
}

// WithConnectionName sets the client name reported to the server.
func WithConnectionName(name string) NATSOption {
	return func(o *natsOptions) { o.name = name }
}

// WithReconnect sets the reconnect policy.
func WithReconnect(max int, wait time.Duration) NATSOption {
	return func(o *natsOptions) {
		o.maxReconnects = max
		if wait > 0 {
			o.reconnectWait = wait
		}
	}
}

// WithDuplicateWindow sets how long the stream remembers message ids.
func WithDuplicateWindow(d time.Duration) NATSOption {
	return func(o *natsOptions) {
		if d > 0 {
			o.duplicates = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) NATSOption {
	return func(o *natsOptions) {
		if l != nil {
			o.log = l
		}
	}
}

func defaultNATSOptions() natsOptions {
	return natsOptions{
		name:          "topkboard",
		maxReconnects: defaultMaxReconnects,
		reconnectWait: defaultReconnectWait,
		duplicates:    defaultDuplicates,
		maxAge:        defaultMaxAge,
		log:           logger.Named("bus"),
	}
}

// DialNATS connects to url, creates the JetStream context and makes sure
// the stream exists.
func DialNATS(ctx context.Context, url, stream, prefix string, opts ...NATSOption) (*NATSBus, error) {
	if url == "" {
		return nil, ErrNoURL
	}
	o := defaultNATSOptions()
	for _, opt := range opts {
		opt(&o)
	}

	nc, err := nats.Connect(url,
		nats.Name(o.name),
		nats.MaxReconnects(o.maxReconnects),
		nats.ReconnectWait(o.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				o.log.Warn(context.Background(), "disconnected from nats", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			o.log.Info(context.Background(), "reconnected to nats", logger.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			o.log.Info(context.Background(), "nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	b, err := newNATSBus(ctx, natsConn{nc: nc}, js, stream, prefix, o)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return b, nil
}

// NewNATSBus builds a bus over an existing connection and JetStream
// context, creating or updating the stream.
func NewNATSBus(ctx context.Context, conn Conn, js JetStream, stream, prefix string, opts ...NATSOption) (*NATSBus, error) {
	o := defaultNATSOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newNATSBus(ctx, conn, js, stream, prefix, o)
}

func newNATSBus(ctx context.Context, conn Conn, js JetStream, stream, prefix string, o natsOptions) (*NATSBus, error) {
	if js == nil {
		return nil, ErrNilJetStream
	}
	if stream == "" {
		return nil, ErrNoStream
	}
	subjects := SubjectsFor(prefix)

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       stream,
		Subjects:   []string{subjects.Updates, subjects.Heartbeat},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     o.maxAge,
		Duplicates: o.duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("create stream %s: %w", stream, err)
	}

	return &NATSBus{
		conn:     conn,
		js:       js,
		stream:   stream,
		subjects: subjects,
		log:      o.log,
	}, nil
}

// Publish sends data to the stream. msgID becomes the Nats-Msg-Id header
// so the stream drops repeats inside its duplicate window.
func (b *NATSBus) Publish(ctx context.Context, subject, msgID string, data []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := b.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack != nil && ack.Duplicate {
		metrics.RecordPublishDuplicate()
		b.log.Warn(ctx, "stream dropped duplicate message",
			logger.String("subject", subject), logger.String("msg_id", msgID))
	}
	return nil
}

// OnResync subscribes fn to the resync subject.
func (b *NATSBus) OnResync(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	if b.conn == nil {
		return nil
	}
	sub, err := b.conn.Subscribe(b.subjects.Resync, func(*nats.Msg) { fn() })
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subjects.Resync, err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Close drops the resync subscriptions and the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, s := range b.subs {
		if err := s.Unsubscribe(); err != nil {
			b.log.Warn(context.Background(), "unsubscribe failed", logger.Error(err))
		}
	}
	b.subs = nil
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// natsConn adapts *nats.Conn to Conn.
type natsConn struct {
	nc *nats.Conn
}

func (c natsConn) Subscribe(subject string, cb nats.MsgHandler) (Subscription, error) {
	sub, err := c.nc.Subscribe(subject, cb)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c natsConn) Close() { c.nc.Close() }
