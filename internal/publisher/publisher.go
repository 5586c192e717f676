// Package publisher sends envelopes to NSQ without blocking on broker
// acknowledgement. Completions are logged from a single goroutine.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/tracing"
)

var (
	ErrPublish = errors.New("publish failed")
	ErrStopped = errors.New("publisher stopped")
)

// Producer is the subset of *nsq.Producer the publisher uses.
type Producer interface {
	PublishAsync(topic string, body []byte, doneChan chan *nsq.ProducerTransaction, args ...interface{}) error
	Stop()
	String() string
}

type Config struct {
	StatusTopic  string
	DefaultTopic string
	DLQTopic     string
	Idempotent   bool
	// FlushTimeout bounds how long SendTo waits for outstanding sends.
	FlushTimeout time.Duration
}

// sendInfo rides along with each transaction so the completion goroutine can
// report what was sent.
type sendInfo struct {
	topic    string
	key      string
	size     int
	enqueued time.Time
}

type Publisher struct {
	prod Producer
	cfg  Config
	log  *logging.Logger

	done chan *nsq.ProducerTransaction
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending int
	idle    chan struct{} // closed whenever pending drops to zero
	stopped bool
}

func New(prod Producer, cfg Config, log *logging.Logger) *Publisher {
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if cfg.Idempotent {
		log.Plain().Warn("idempotent publish requested; NSQ has no idempotent producer, duplicates are handled by at-least-once consumers")
	}

	idle := make(chan struct{})
	close(idle)
	p := &Publisher{
		prod: prod,
		cfg:  cfg,
		log:  log,
		done: make(chan *nsq.ProducerTransaction, 64),
		idle: idle,
	}
	p.wg.Add(1)
	go p.completions()
	return p
}

// Publish sends a status change to the status topic. Broker failures are
// logged by the completion path, never returned.
func (p *Publisher) Publish(ctx context.Context, env event.StatusChange) error {
	body, err := event.Encode(env)
	if err != nil {
		return err
	}
	return p.SendTo(ctx, p.cfg.StatusTopic, body)
}

// DeadLetter publishes dl to the dead-letter topic and waits for the broker's
// answer. Unlike Publish, a rejected send is returned to the caller.
func (p *Publisher) DeadLetter(ctx context.Context, dl event.DeadLetter) error {
	body, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	ctx, span := tracing.StartSpan(ctx, "publisher.DeadLetter", attribute.String("topic", p.cfg.DLQTopic))
	defer span.End()
	if err := p.sendAndWait(ctx, p.cfg.DLQTopic, body); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	return nil
}

// sendAndWait publishes body on its own completion channel and returns the
// transaction's error. If ctx or FlushTimeout ends first the send is reported
// as failed and its late completion is still settled.
func (p *Publisher) sendAndWait(ctx context.Context, topic string, body []byte) error {
	own := make(chan *nsq.ProducerTransaction, 1)
	if err := p.publish(ctx, topic, "", body, own); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.FlushTimeout)
	defer cancel()
	select {
	case t := <-own:
		p.complete(t)
		if t.Error != nil {
			return fmt.Errorf("%w: %s: %v", ErrPublish, topic, t.Error)
		}
		return nil
	case <-waitCtx.Done():
		go func() { p.complete(<-own) }()
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, waitCtx.Err())
	}
}

// SendDefault JSON-encodes v and sends it to the default topic. An empty key
// is replaced by a random UUID; NSQ has no keyed routing so the key is kept
// for log correlation only.
func (p *Publisher) SendDefault(ctx context.Context, key string, v any) error {
	if key == "" {
		key = uuid.NewString()
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return p.enqueue(ctx, p.cfg.DefaultTopic, key, body)
}

// SendTo enqueues body on topic and then flushes every outstanding send.
func (p *Publisher) SendTo(ctx context.Context, topic string, body []byte) error {
	ctx, span := tracing.StartSpan(ctx, "publisher.SendTo", attribute.String("topic", topic))
	defer span.End()

	if err := p.enqueue(ctx, topic, "", body); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}

	flushCtx, cancel := context.WithTimeout(ctx, p.cfg.FlushTimeout)
	defer cancel()
	if err := p.Flush(flushCtx); err != nil {
		tracing.SetSpanError(ctx, err)
		return err
	}
	return nil
}

func (p *Publisher) enqueue(ctx context.Context, topic, key string, body []byte) error {
	return p.publish(ctx, topic, key, body, p.done)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, body []byte, done chan *nsq.ProducerTransaction) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	p.pending++
	if p.pending == 1 {
		p.idle = make(chan struct{})
	}
	p.mu.Unlock()

	info := sendInfo{topic: topic, key: key, size: len(body), enqueued: time.Now()}
	if err := p.prod.PublishAsync(topic, body, done, info); err != nil {
		p.settle()
		metrics.RecordEventPublished(topic, err)
		p.log.WithContext(ctx).WithTopic(topic).WithField("key", key).WithError(err).Error("enqueue failed")
		return fmt.Errorf("%w: %s: %v", ErrPublish, topic, err)
	}
	return nil
}

func (p *Publisher) settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

func (p *Publisher) completions() {
	defer p.wg.Done()
	for t := range p.done {
		p.complete(t)
	}
}

// complete logs and counts one finished transaction and settles it.
func (p *Publisher) complete(t *nsq.ProducerTransaction) {
	var info sendInfo
	if len(t.Args) > 0 {
		info, _ = t.Args[0].(sendInfo)
	}
	metrics.RecordEventPublished(info.topic, t.Error)

	e := p.log.Plain().
		WithTopic(info.topic).
		WithField("producer", p.prod.String()).
		WithField("bytes", info.size).
		WithField("latency_ms", time.Since(info.enqueued).Milliseconds())
	if info.key != "" {
		e.WithField("key", info.key)
	}
	if t.Error != nil {
		e.WithError(t.Error).Error("send failed")
	} else {
		e.Debug("sent")
	}
	p.settle()
}

// Flush waits until every send enqueued so far has completed or ctx ends.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush: %w", ctx.Err())
	}
}

// Pending reports sends awaiting broker completion.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Stop rejects new sends, waits for outstanding ones until ctx ends, then
// stops the producer.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	err := p.Flush(ctx)
	// Stop returns once go-nsq has delivered every remaining transaction, so
	// closing done afterwards cannot race a send.
	p.prod.Stop()
	close(p.done)
	p.wg.Wait()
	return err
}
