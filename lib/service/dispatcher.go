package service

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ziflex/lecho/v3"
)

const (
	sendModeNow   = "now"
	sendModeLater = "later"
)

type DispatcherConfig struct {
	QueueSize      int
	Workers        int
	SendTimeout    time.Duration
	EnqueueTimeout time.Duration
}

type outbound struct {
	msg     []byte
	session Session
}

type dispatcherMetrics struct {
	sent      *prometheus.CounterVec
	failed    *prometheus.CounterVec
	scheduled prometheus.Counter
	dropped   prometheus.Counter
}

// Dispatcher delivers messages to sessions, either right away (SendNow) or
// through a bounded queue drained by a pool of workers (SendLater). A send
// never takes longer than SendTimeout and failures are not retried.
type Dispatcher struct {
	config  DispatcherConfig
	logger  *lecho.Logger
	queue   chan outbound
	done    chan struct{}
	metrics dispatcherMetrics

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	closeOnce sync.Once
}

// NewDispatcher registers its collectors on registerer unless it is nil.
func NewDispatcher(config DispatcherConfig, logger *lecho.Logger, registerer prometheus.Registerer) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		config: config,
		logger: logger,
		queue:  make(chan outbound, config.QueueSize),
		done:   make(chan struct{}),
		metrics: dispatcherMetrics{
			sent: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "knostr_dispatcher_sent_total",
				Help: "Messages delivered to sessions.",
			}, []string{"mode"}),
			failed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "knostr_dispatcher_failed_total",
				Help: "Messages that could not be delivered.",
			}, []string{"mode"}),
			scheduled: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "knostr_dispatcher_scheduled_total",
				Help: "Messages accepted by the send queue.",
			}),
			dropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "knostr_dispatcher_dropped_total",
				Help: "Messages dropped because the send queue stayed full.",
			}),
		},
	}
	if registerer != nil {
		registerer.MustRegister(
			d.metrics.sent,
			d.metrics.failed,
			d.metrics.scheduled,
			d.metrics.dropped,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "knostr_dispatcher_queue_depth",
				Help: "Messages waiting in the send queue.",
			}, func() float64 { return float64(len(d.queue)) }),
		)
	}
	return d
}

// Start launches the workers. They stop when ctx is done or on Close.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		ctx, d.cancel = context.WithCancel(ctx)
		for i := 0; i < d.config.Workers; i++ {
			d.wg.Add(1)
			go d.work(ctx)
		}
	})
}

// Close stops the workers and waits for them. Queued messages are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

// SendNow sends msg on the calling goroutine.
func (d *Dispatcher) SendNow(ctx context.Context, msg []byte, session Session) bool {
	if !session.IsOpen() {
		return false
	}
	return d.send(ctx, outbound{msg: msg, session: session}, sendModeNow)
}

// SendLater queues msg for the workers. When the queue is full it waits up
// to EnqueueTimeout for room, then drops the message.
func (d *Dispatcher) SendLater(msg []byte, session Session) bool {
	item := outbound{msg: msg, session: session}
	select {
	case <-d.done:
		return false
	default:
	}

	select {
	case d.queue <- item:
		d.metrics.scheduled.Inc()
		return true
	default:
	}

	timer := time.NewTimer(d.config.EnqueueTimeout)
	defer timer.Stop()
	select {
	case d.queue <- item:
		d.metrics.scheduled.Inc()
		return true
	case <-timer.C:
		d.metrics.dropped.Inc()
		d.metrics.failed.WithLabelValues(sendModeLater).Inc()
		d.logger.Warnf("Send queue full, dropping message for session %s", session.ID())
		return false
	case <-d.done:
		return false
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case item := <-d.queue:
			d.deliver(ctx, item)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, item outbound) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.failed.WithLabelValues(sendModeLater).Inc()
			d.logger.Errorf("Recovered while sending to session %s: %v", item.session.ID(), r)
		}
	}()
	if !item.session.IsOpen() {
		return
	}
	d.send(ctx, item, sendModeLater)
}

func (d *Dispatcher) send(ctx context.Context, item outbound, mode string) bool {
	ctx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()
	if err := item.session.Send(ctx, item.msg); err != nil {
		d.metrics.failed.WithLabelValues(mode).Inc()
		d.logger.Debugf("Failed to send to session %s: %v", item.session.ID(), err)
		return false
	}
	d.metrics.sent.WithLabelValues(mode).Inc()
	return true
}
