package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/promo-cli/internal/model"
	"github.com/sells-group/promo-cli/internal/resilience"
	"github.com/sells-group/promo-cli/internal/store"
)

// ConnOptions configures the NATS connection.
type ConnOptions struct {
	Name           string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// Connect opens a NATS connection that keeps reconnecting in the background.
func Connect(url string, opts ConnOptions) (*nats.Conn, error) {
	if opts.Name == "" {
		opts.Name = "promo-cli"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}

	nc, err := nats.Connect(
		url,
		nats.Name(opts.Name),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			zap.L().Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: connect nats")
	}
	return nc, nil
}

// drainTimeout bounds how long Run waits for buffered messages on shutdown.
const drainTimeout = 10 * time.Second

// Subject returns the subject a promo path publishes on.
func Subject(prefix string, path model.PromoPath) string {
	return prefix + "." + string(path)
}

// Ack is the reply sent to producers that publish with a reply subject.
type Ack struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Ack statuses.
const (
	AckAccepted  = "accepted"
	AckDuplicate = "duplicate"
	AckInvalid   = "invalid"
	AckOrphan    = "orphan"
	AckError     = "error"
)

// AckFor maps an ingest outcome to its acknowledgement.
func AckFor(res Result, err error) Ack {
	switch {
	case err == nil && res.Duplicate:
		return Ack{ID: res.Payload.ID, Status: AckDuplicate}
	case err == nil:
		return Ack{ID: res.Payload.ID, Status: AckAccepted}
	case errors.Is(err, model.ErrValidation):
		return Ack{Status: AckInvalid, Error: err.Error()}
	case errors.Is(err, store.ErrOrphan):
		return Ack{Status: AckOrphan, Error: err.Error()}
	default:
		return Ack{Status: AckError, Error: err.Error()}
	}
}

// Subscriber consumes payloads from one queue subscription per promo path.
type Subscriber struct {
	conn   *nats.Conn
	ing    *Ingestor
	prefix string
	queue  string
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(conn *nats.Conn, ing *Ingestor, prefix, queue string) *Subscriber {
	return &Subscriber{conn: conn, ing: ing, prefix: prefix, queue: queue}
}

// Run subscribes to every path subject and blocks until ctx is done, then
// drains the subscriptions.
func (s *Subscriber) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("phase", phase))

	// Messages buffered when ctx ends are still admitted while draining.
	handleCtx := context.WithoutCancel(ctx)

	subs := make([]*nats.Subscription, 0, len(model.PromoPaths))
	for _, path := range model.PromoPaths {
		subject := Subject(s.prefix, path)
		sub, err := s.conn.QueueSubscribe(subject, s.queue, func(msg *nats.Msg) {
			s.handle(handleCtx, path, msg)
		})
		if err != nil {
			return eris.Wrapf(err, "ingest: subscribe %s", subject)
		}
		subs = append(subs, sub)
		log.Info("subscribed", zap.String("subject", subject), zap.String("queue", s.queue))
	}

	if err := s.conn.Flush(); err != nil {
		return eris.Wrap(err, "ingest: nats flush")
	}

	<-ctx.Done()
	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Warn("drain subscription", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	deadline := time.Now().Add(drainTimeout)
	for _, sub := range subs {
		for sub.IsValid() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if err := s.conn.FlushTimeout(5 * time.Second); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return eris.Wrap(err, "ingest: nats flush after drain")
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, path model.PromoPath, msg *nats.Msg) {
	res, err := s.ingestMessage(ctx, path, msg.Data)
	if err != nil {
		zap.L().Warn("payload rejected",
			zap.String("phase", phase),
			zap.String("subject", msg.Subject),
			zap.Error(err),
		)
	}
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(AckFor(res, err))
	if rerr := msg.Respond(data); rerr != nil {
		zap.L().Warn("ack failed", zap.String("subject", msg.Subject), zap.Error(rerr))
	}
}

// ingestMessage decodes a message body. The subject fixes the path; a body
// that names a different path is rejected.
func (s *Subscriber) ingestMessage(ctx context.Context, path model.PromoPath, data []byte) (Result, error) {
	var p model.RawPromoPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Result{}, model.Invalidf("decode payload: %v", err)
	}
	if p.Path == "" {
		p.Path = path
	}
	if p.Path != path {
		return Result{}, model.Invalidf("payload path %q does not match subject path %q", p.Path, path)
	}
	return s.ing.Ingest(ctx, p)
}

// Publisher sends payloads to the path subjects.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	retry  resilience.RetryConfig
}

// NewPublisher creates a Publisher.
func NewPublisher(conn *nats.Conn, prefix string) *Publisher {
	retry := resilience.DefaultRetryConfig()
	retry.MaxBackoff = 5 * time.Second
	retry.ShouldRetry = isRetryableNATS
	retry.OnRetry = resilience.RetryLogger("nats", "publish")
	return &Publisher{conn: conn, prefix: prefix, retry: retry}
}

// Publish sends p without waiting for admission.
func (p *Publisher) Publish(ctx context.Context, payload model.RawPromoPayload) error {
	subject, data, err := p.encode(payload)
	if err != nil {
		return err
	}
	return resilience.Do(ctx, p.retry, func(context.Context) error {
		return p.conn.Publish(subject, data)
	})
}

// Request sends p and waits for the subscriber's acknowledgement.
func (p *Publisher) Request(ctx context.Context, payload model.RawPromoPayload) (Ack, error) {
	subject, data, err := p.encode(payload)
	if err != nil {
		return Ack{}, err
	}
	return resilience.DoVal(ctx, p.retry, func(ctx context.Context) (Ack, error) {
		msg, err := p.conn.RequestWithContext(ctx, subject, data)
		if err != nil {
			return Ack{}, err
		}
		var ack Ack
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			return Ack{}, eris.Wrap(err, "ingest: decode ack")
		}
		return ack, nil
	})
}

// encode fixes the payload id before the first send so every redelivery of
// the message collapses onto one stored row.
func (p *Publisher) encode(payload model.RawPromoPayload) (string, []byte, error) {
	if !payload.Path.Valid() {
		return "", nil, model.Invalidf("unknown path %q", payload.Path)
	}
	if payload.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return "", nil, eris.Wrap(err, "ingest: generate payload id")
		}
		payload.ID = id.String()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", nil, eris.Wrap(err, "ingest: encode payload")
	}
	return Subject(p.prefix, payload.Path), data, nil
}

func isRetryableNATS(err error) bool {
	return errors.Is(err, nats.ErrNoServers) ||
		errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrDisconnected) ||
		strings.Contains(err.Error(), "reconnecting")
}
