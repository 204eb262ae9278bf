package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/pdf-study-assistant/internal/core/ports"
	"github.com/kirillkom/pdf-study-assistant/internal/infrastructure/resilience"
)

// Queue publishes ingest jobs on a subject and delivers them to one worker
// per queue group.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	// FailFast disables the background retry of the initial connect.
	FailFast           bool
	QueueGroup         string
	ResilienceExecutor *resilience.Executor
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 2 * time.Second
	}
	if o.ReconnectWait <= 0 {
		o.ReconnectWait = 2 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 60
	}
	if o.QueueGroup == "" {
		o.QueueGroup = "ingest-workers"
	}
	return o
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	opts := options.withDefaults()
	conn, err := nats.Connect(url,
		nats.Name("pdf-study-assistant"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.RetryOnFailedConnect(!opts.FailFast),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "subject", subject, "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "subject", subject, "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{conn: conn, subject: subject, group: opts.QueueGroup, executor: options.ResilienceExecutor}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) PublishIngestJob(ctx context.Context, job ports.IngestJob) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	publish := func(context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}
	if q.executor == nil {
		return publishError(publish(ctx))
	}
	return publishError(q.executor.Execute(ctx, "nats.publish", publish, classifyPublishError))
}

// SubscribeIngestJobs blocks until ctx is done, then drains the subscription
// so jobs already delivered finish before it returns.
func (q *Queue) SubscribeIngestJobs(ctx context.Context, handler func(context.Context, ports.IngestJob) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		job, err := decodeJob(msg.Data)
		if err != nil {
			slog.Error("ingest_job_malformed", "error", err, "payload_bytes", len(msg.Data))
			return
		}
		if err := handler(ctx, job); err != nil {
			slog.Error("ingest_job_failed", "document_id", job.DocumentID, "owner_id", job.OwnerID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("ingest_subscription_ready", "subject", q.subject, "group", q.group)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return q.conn.FlushTimeout(5 * time.Second)
}

var errIncompleteJob = errors.New("ingest job requires owner and document id")

func encodeJob(job ports.IngestJob) ([]byte, error) {
	if job.OwnerID == "" || job.DocumentID == "" {
		return nil, errIncompleteJob
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal ingest job: %w", err)
	}
	return payload, nil
}

func decodeJob(data []byte) (ports.IngestJob, error) {
	var job ports.IngestJob
	if err := json.Unmarshal(data, &job); err != nil {
		return ports.IngestJob{}, fmt.Errorf("unmarshal ingest job: %w", err)
	}
	if job.OwnerID == "" || job.DocumentID == "" {
		return ports.IngestJob{}, errIncompleteJob
	}
	return job, nil
}
