package publisher

import (
	"errors"
	"fmt"

	"github.com/nsqio/go-nsq"

	"github.com/badya367/taskmanager/internal/logging"
)

// DialNSQ returns a producer for the first nsqd in addrs that answers a ping.
func DialNSQ(addrs []string, conf *nsq.Config, log *logging.Logger, level logging.LogLevel) (*nsq.Producer, error) {
	if len(addrs) == 0 {
		return nil, errors.New("no nsqd addresses configured")
	}

	var errs []error
	for _, addr := range addrs {
		prod, err := nsq.NewProducer(addr, conf)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		prod.SetLogger(logging.NewNSQLogger(log, "nsq-producer"), logging.NSQLevel(level))
		if err := prod.Ping(); err != nil {
			prod.Stop()
			errs = append(errs, fmt.Errorf("%s: %w", addr, err))
			continue
		}
		return prod, nil
	}
	return nil, fmt.Errorf("no reachable nsqd: %w", errors.Join(errs...))
}
