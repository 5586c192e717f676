package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/badya367/taskmanager/internal/logging"
)

type NSQConfig struct {
	Topic           string
	Channel         string // consumer group identity
	NsqdTCPAddrs    []string
	LookupHTTPAddrs []string // preferred over NsqdTCPAddrs when set
	MaxInFlight     int
	SessionTimeout  time.Duration
	MsgTimeout      time.Duration
	LogLevel        logging.LogLevel
}

// nsqConfig maps the consumer settings onto go-nsq. The session timeout
// becomes the read timeout with heartbeats at a third of it.
func nsqConfig(cfg NSQConfig) (*nsq.Config, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = max(cfg.MaxInFlight, 1)
	conf.MaxAttempts = 0 // retry policy lives in the loop
	if cfg.SessionTimeout > 0 {
		conf.ReadTimeout = cfg.SessionTimeout
		conf.HeartbeatInterval = cfg.SessionTimeout / 3
	}
	if cfg.MsgTimeout > 0 {
		conf.MsgTimeout = cfg.MsgTimeout
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("nsq config: %w", err)
	}
	return conf, nil
}

// NSQSource buffers messages delivered by a go-nsq consumer and hands them
// out in batches. Responses are manual; nothing is finished until the loop
// settles the batch.
type NSQSource struct {
	consumer *nsq.Consumer
	msgs     chan *nsq.Message
	stopping chan struct{}
	held     *nsq.Message // overflowed the byte cap of the previous poll
	once     sync.Once
	log      *logging.Logger
}

func NewNSQSource(cfg NSQConfig, log *logging.Logger) (*NSQSource, error) {
	s, err := newNSQSource(cfg, log)
	if err != nil {
		return nil, err
	}
	c := s.consumer
	if len(cfg.LookupHTTPAddrs) > 0 {
		err = c.ConnectToNSQLookupds(cfg.LookupHTTPAddrs)
	} else {
		err = c.ConnectToNSQDs(cfg.NsqdTCPAddrs)
	}
	if err != nil {
		c.Stop()
		return nil, fmt.Errorf("connect consumer: %w", err)
	}
	return s, nil
}

// newNSQSource builds the consumer and registers the handler without
// connecting.
func newNSQSource(cfg NSQConfig, log *logging.Logger) (*NSQSource, error) {
	conf, err := nsqConfig(cfg)
	if err != nil {
		return nil, err
	}
	c, err := nsq.NewConsumer(cfg.Topic, cfg.Channel, conf)
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}
	c.SetLogger(logging.NewNSQLogger(log, "nsq-consumer"), logging.NSQLevel(cfg.LogLevel))

	s := &NSQSource{
		consumer: c,
		msgs:     make(chan *nsq.Message, conf.MaxInFlight),
		stopping: make(chan struct{}),
		log:      log,
	}
	c.AddHandler(nsq.HandlerFunc(s.handle))
	return s, nil
}

func (s *NSQSource) handle(m *nsq.Message) error {
	m.DisableAutoResponse()
	select {
	case <-s.stopping:
		m.Requeue(-1)
		return nil
	default:
	}
	select {
	case s.msgs <- m:
	case <-s.stopping:
		m.Requeue(-1)
	}
	return nil
}

func (s *NSQSource) Poll(ctx context.Context, maxMsgs, maxBytes int, timeout time.Duration) ([]*Message, error) {
	first := s.held
	s.held = nil
	if first == nil {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case first = <-s.msgs:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.stopping:
			return nil, ErrClosed
		}
	}

	batch := []*Message{wrap(first)}
	size := len(first.Body)
	for len(batch) < maxMsgs {
		select {
		case m := <-s.msgs:
			if maxBytes > 0 && size+len(m.Body) > maxBytes {
				s.held = m
				return batch, nil
			}
			batch = append(batch, wrap(m))
			size += len(m.Body)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func wrap(m *nsq.Message) *Message {
	return NewMessage(string(m.ID[:]), m.Body, m.Attempts, m)
}

// Ping reports whether the consumer holds at least one broker connection.
func (s *NSQSource) Ping(context.Context) error {
	if s.consumer.Stats().Connections == 0 {
		return errors.New("no nsqd connections")
	}
	return nil
}

// Close stops the consumer and requeues anything buffered but not yet
// polled. Call it after Run has returned.
func (s *NSQSource) Close() error {
	s.once.Do(func() {
		close(s.stopping)
		s.consumer.Stop()

		if s.held != nil {
			s.held.Requeue(-1)
			s.held = nil
		}
		// go-nsq closes StopChan only once every in-flight message has been
		// responded to, buffered ones included.
		for {
			select {
			case m := <-s.msgs:
				m.Requeue(-1)
			case <-s.consumer.StopChan:
				s.requeueBuffered()
				s.log.Plain().Info("nsq consumer stopped")
				return
			}
		}
	})
	return nil
}

func (s *NSQSource) requeueBuffered() {
	for {
		select {
		case m := <-s.msgs:
			m.Requeue(-1)
		default:
			return
		}
	}
}
