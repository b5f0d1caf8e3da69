package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	natsio "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/phrazzld/scry-quests/internal/events"
	"github.com/phrazzld/scry-quests/internal/platform/logger"
)

// DefaultDuplicateWindow is how long the stream remembers message IDs.
const DefaultDuplicateWindow = 10 * time.Minute

// ErrPublisherClosed is returned by EmitEvent after Close.
var ErrPublisherClosed = errors.New("completion publisher is closed")

// PublisherConfig configures a CompletionPublisher.
type PublisherConfig struct {
	// Stream is the JetStream stream capturing completion subjects.
	Stream string

	// SubjectPrefix is prepended to the event key, e.g. "quests".
	SubjectPrefix string

	// DuplicateWindow overrides DefaultDuplicateWindow when positive.
	DuplicateWindow time.Duration
}

// CompletionPublisher is an events.EventEmitter backed by JetStream.
type CompletionPublisher struct {
	conn   *natsio.Conn
	js     jetstream.JetStream
	config PublisherConfig
	logger *slog.Logger
}

var _ events.EventEmitter = (*CompletionPublisher)(nil)

// Connect dials the NATS server at url.
func Connect(url string, logger *slog.Logger) (*natsio.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("component", "nats"))

	conn, err := natsio.Connect(url,
		natsio.Name("scry-quests"),
		natsio.Timeout(5*time.Second),
		natsio.RetryOnFailedConnect(true),
		natsio.MaxReconnects(-1),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", slog.String("error", err.Error()))
			}
		}),
		natsio.ReconnectHandler(func(c *natsio.Conn) {
			log.Info("reconnected to NATS", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewCompletionPublisher creates a publisher over an established connection.
func NewCompletionPublisher(conn *natsio.Conn, config PublisherConfig, logger *slog.Logger) (*CompletionPublisher, error) {
	if conn == nil {
		panic("nats connection cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.Stream == "" || config.SubjectPrefix == "" {
		return nil, errors.New("stream and subject prefix are required")
	}
	if config.DuplicateWindow <= 0 {
		config.DuplicateWindow = DefaultDuplicateWindow
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &CompletionPublisher{
		conn:   conn,
		js:     js,
		config: config,
		logger: logger.With(slog.String("component", "completion_publisher")),
	}, nil
}

// Subject returns the subject completion events are published on.
func (p *CompletionPublisher) Subject() string {
	return p.config.SubjectPrefix + "." + events.EventKeyTaskComplete
}

// EnsureStream creates the stream, or updates it to capture the
// publisher's subjects.
func (p *CompletionPublisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       p.config.Stream,
		Subjects:   []string{p.config.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Duplicates: p.config.DuplicateWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", p.config.Stream, err)
	}

	p.logger.Info("completion stream ready",
		slog.String("stream", p.config.Stream),
		slog.String("subject", p.Subject()))
	return nil
}

// EmitEvent publishes the event and waits for the broker acknowledgement.
func (p *CompletionPublisher) EmitEvent(ctx context.Context, event *events.CompletionEvent) error {
	log := logger.FromContextOrDefault(ctx, p.logger)

	if p.conn.IsClosed() {
		return ErrPublisherClosed
	}

	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal completion event: %w", err)
	}

	msg := natsio.NewMsg(p.Subject())
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	msg.Header.Set("Event-Id", event.ID.String())

	ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(event.Context.AssignmentID.String()))
	if err != nil {
		return fmt.Errorf("failed to publish completion event: %w", err)
	}

	if ack.Duplicate {
		log.Info("completion already published, broker dropped duplicate",
			slog.String("assignment_id", event.Context.AssignmentID.String()))
		return nil
	}

	log.Debug("completion event published",
		slog.String("event_id", event.ID.String()),
		slog.String("stream", ack.Stream),
		slog.Uint64("sequence", ack.Sequence))
	return nil
}

// Close drains the underlying connection.
func (p *CompletionPublisher) Close() error {
	if p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}
