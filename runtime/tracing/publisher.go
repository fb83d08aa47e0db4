package tracing

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcp-mesh/mesh-core/mesh"
	"github.com/mcp-mesh/mesh-core/runtime/telemetry"
)

// Publisher is the production Sink: a single background goroutine draining a
// bounded channel of SpanRecords into a Redis stream via XADD, grounded on
// the go-redis dependency and runtime/toolregistry/output_delta_publisher.go's
// context-carried-publisher idiom, generalized from per-tool-call output
// deltas to span records. Publish never blocks the caller beyond a
// full-channel drop, and sink errors are logged, never returned to tracing
// callers (spec §4.6).
type Publisher struct {
	client *redis.Client
	stream string
	logger telemetry.Logger

	ch     chan SpanRecord
	done   chan struct{}
	once   sync.Once
}

// PublisherOption configures optional Publisher settings.
type PublisherOption func(*Publisher)

// WithPublisherLogger sets the logger used for swallowed publish failures.
func WithPublisherLogger(l telemetry.Logger) PublisherOption {
	return func(p *Publisher) { p.logger = l }
}

// NewPublisher creates a Publisher sinking to the given Redis stream key
// (conventionally "mesh:trace", matching the spec's XADD semantic name) and
// starts its background drain goroutine. Callers must call Close on
// shutdown to stop the goroutine.
func NewPublisher(client *redis.Client, stream string, bufferSize int, opts ...PublisherOption) *Publisher {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	p := &Publisher{
		client: client,
		stream: stream,
		logger: telemetry.NewNoopLogger(),
		ch:     make(chan SpanRecord, bufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

// Publish enqueues rec for async publication. If the buffer is full, rec is
// dropped and a TracingFailureError is logged at debug level — tracing must
// never apply backpressure to the caller.
func (p *Publisher) Publish(ctx context.Context, rec SpanRecord) error {
	select {
	case p.ch <- rec:
		return nil
	default:
		err := &mesh.TracingFailureError{Cause: errFullBuffer}
		p.logger.Debug(ctx, "trace publisher buffer full, dropping span", "trace_id", rec.TraceID, "span_id", rec.SpanID)
		return err
	}
}

func (p *Publisher) run() {
	ctx := context.Background()
	for {
		select {
		case rec, ok := <-p.ch:
			if !ok {
				return
			}
			p.send(ctx, rec)
		case <-p.done:
			// Drain whatever is already buffered before exiting.
			for {
				select {
				case rec := <-p.ch:
					p.send(ctx, rec)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) send(ctx context.Context, rec SpanRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		p.logger.Debug(ctx, "marshal span record failed", "err", err)
		return
	}
	_, err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"span": string(payload)},
	}).Result()
	if err != nil {
		p.logger.Debug(ctx, "publish span to stream failed", "stream", p.stream, "err", err)
	}
}

// Close stops the background drain goroutine after flushing any buffered
// records.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.done) })
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errFullBuffer = sentinelError("trace publisher buffer full")
