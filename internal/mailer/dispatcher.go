package mailer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher sends mail off the request path. Failures are logged and
// counted, never returned to the caller.
type Dispatcher struct {
	sender  Sender
	timeout time.Duration
	log     *zap.Logger
	metrics *MetricsCollector
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		log:     log,
		metrics: NewMetricsCollector(),
	}
}

func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		if err := d.sender.Send(ctx, msg); err != nil {
			d.metrics.RecordFailure(time.Since(start), err)
			d.log.Error("mail delivery failed",
				zap.String("to", msg.To),
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		d.metrics.RecordSuccess(time.Since(start))
		d.log.Debug("mail delivered",
			zap.String("to", msg.To),
			zap.Duration("latency", time.Since(start)))
	}()
}

// Wait blocks until every dispatched message has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) Stats() DeliveryStats {
	return d.metrics.Snapshot()
}
