package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/getAlby/knostr.go/lib/testutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/ziflex/lecho/v3"
)

type panickingSession struct {
	*testutils.Session
}

func (s panickingSession) Send(ctx context.Context, msg []byte) error {
	panic("boom")
}

func newTestDispatcher(config DispatcherConfig) *Dispatcher {
	return NewDispatcher(config, lecho.New(io.Discard), nil)
}

func TestSendNow(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1, SendTimeout: time.Second})
	session := testutils.NewSession()

	assert.True(t, d.SendNow(context.Background(), []byte(`["NOTICE","hi"]`), session))
	assert.Equal(t, [][]byte{[]byte(`["NOTICE","hi"]`)}, session.Messages())
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.sent.WithLabelValues(sendModeNow)))

	session.Close()
	assert.False(t, d.SendNow(context.Background(), []byte(`["NOTICE","again"]`), session))
	assert.Len(t, session.Messages(), 1)
}

func TestSendNowTimesOut(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1, SendTimeout: 20 * time.Millisecond})
	session := testutils.NewSession()
	session.Block()
	defer session.Unblock()

	start := time.Now()
	assert.False(t, d.SendNow(context.Background(), []byte("slow"), session))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.failed.WithLabelValues(sendModeNow)))
}

func TestSendLaterIsDeliveredByWorkers(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 10, Workers: 2, SendTimeout: time.Second, EnqueueTimeout: time.Second})
	d.Start(context.Background())
	defer d.Close()

	session := testutils.NewSession()
	for i := 0; i < 5; i++ {
		assert.True(t, d.SendLater([]byte(`["NOTICE","x"]`), session))
	}
	assert.Eventually(t, func() bool { return len(session.Messages()) == 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5.0, testutil.ToFloat64(d.metrics.scheduled))
}

func TestSendLaterDropsWhenQueueStaysFull(t *testing.T) {
	// no workers started, so nothing drains the queue
	d := newTestDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1, SendTimeout: time.Second, EnqueueTimeout: 20 * time.Millisecond})
	session := testutils.NewSession()

	assert.True(t, d.SendLater([]byte("first"), session))
	assert.False(t, d.SendLater([]byte("second"), session))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.failed.WithLabelValues(sendModeLater)))
}

func TestSendLaterWaitsForRoom(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1, SendTimeout: time.Second, EnqueueTimeout: 2 * time.Second})
	session := testutils.NewSession()

	assert.True(t, d.SendLater([]byte("first"), session))
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Start(context.Background())
	}()
	defer d.Close()

	assert.True(t, d.SendLater([]byte("second"), session))
	assert.Eventually(t, func() bool { return len(session.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(d.metrics.dropped))
}

func TestWorkersSkipClosedSessions(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 10, Workers: 1, SendTimeout: time.Second, EnqueueTimeout: time.Second})
	closed := testutils.NewSession()
	closed.Close()
	open := testutils.NewSession()

	d.SendLater([]byte("lost"), closed)
	d.SendLater([]byte("kept"), open)
	d.Start(context.Background())
	defer d.Close()

	assert.Eventually(t, func() bool { return len(open.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, closed.Messages())
}

func TestWorkersSurvivePanics(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 10, Workers: 1, SendTimeout: time.Second, EnqueueTimeout: time.Second})
	d.Start(context.Background())
	defer d.Close()

	d.SendLater([]byte("boom"), panickingSession{testutils.NewSession()})
	session := testutils.NewSession()
	d.SendLater([]byte("after"), session)

	assert.Eventually(t, func() bool { return len(session.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.metrics.failed.WithLabelValues(sendModeLater)))
}

func TestSendLaterAfterClose(t *testing.T) {
	d := newTestDispatcher(DispatcherConfig{QueueSize: 10, Workers: 1, SendTimeout: time.Second, EnqueueTimeout: time.Second})
	d.Start(context.Background())
	d.Close()
	d.Close()

	assert.False(t, d.SendLater([]byte("late"), testutils.NewSession()))
}

func TestDispatcherRegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewDispatcher(DispatcherConfig{QueueSize: 1, Workers: 1}, lecho.New(io.Discard), registry)

	count, err := testutil.GatherAndCount(registry, "knostr_dispatcher_queue_depth", "knostr_dispatcher_scheduled_total", "knostr_dispatcher_dropped_total")
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}
