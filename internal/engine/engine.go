// Package engine executes remote provisioning work off the caller's
// goroutine and records the resulting front status transitions.
//
// Work items run on a bounded pool. Items touching the same host are
// serialized through a per-host lock so two SSH sessions never mutate the
// same remote tree at once. Items are never cancelled mid-flight by callers;
// a failing item records FAILED on the fronts it was driving.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"evalgo.org/chainmgr/internal/config"
	"evalgo.org/chainmgr/internal/keylock"
	"evalgo.org/chainmgr/internal/storage"
	"evalgo.org/chainmgr/models"
)

// ErrClosed is returned when work is submitted after Shutdown.
var ErrClosed = errors.New("engine is shut down")

// Provisioner pushes generated files to hosts.
type Provisioner interface {
	PushHostBundle(ctx context.Context, chain *models.Chain, host *models.Host) error
	PushNodeConfig(ctx context.Context, chain *models.Chain, host *models.Host, hostIndex int) error
	MoveNodeAside(ctx context.Context, chainName string, host *models.Host, hostIndex int, nodeID string) error
	MoveChainAside(ctx context.Context, chainName string, host *models.Host) error
}

// Runtime controls node containers on hosts.
type Runtime interface {
	Install(ctx context.Context, chain *models.Chain, host *models.Host, front *models.Front, version string) error
	Start(ctx context.Context, chainName string, host *models.Host, hostIndex int) error
	Stop(ctx context.Context, chainName string, host *models.Host, hostIndex int) error
	Restart(ctx context.Context, chainName string, host *models.Host, hostIndex int) error
	Remove(ctx context.Context, chainName string, host *models.Host, hostIndex int) error
}

// Transition names the states a restart passes through.
type Transition struct {
	Before  models.FrontStatus `json:"before"`
	Success models.FrontStatus `json:"success"`
	Failure models.FrontStatus `json:"failure"`
}

// StartTransition drives a front toward RUNNING and marks it FAILED when
// the restart fails.
var StartTransition = Transition{
	Before:  models.FrontStarting,
	Success: models.FrontRunning,
	Failure: models.FrontFailed,
}

// RestartTransition restarts a serving front after a configuration change.
// A front that does not come back is left STOPPED.
var RestartTransition = Transition{
	Before:  models.FrontStarting,
	Success: models.FrontRunning,
	Failure: models.FrontStopped,
}

// IsZero reports whether no status is set.
func (t Transition) IsZero() bool {
	return t == Transition{}
}

// Validate checks that Success and Failure are reachable from Before.
func (t Transition) Validate() error {
	for _, st := range []models.FrontStatus{t.Before, t.Success, t.Failure} {
		if !st.Valid() {
			return fmt.Errorf("unknown front status %q", st)
		}
	}
	if !models.CanTransition(t.Before, t.Success) {
		return fmt.Errorf("success status %s is not reachable from %s", t.Success, t.Before)
	}
	if !models.CanTransition(t.Before, t.Failure) {
		return fmt.Errorf("failure status %s is not reachable from %s", t.Failure, t.Before)
	}
	return nil
}

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	items    *prometheus.CounterVec
	inflight prometheus.Gauge
	duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chainmgr_engine_items_total",
			Help: "Provisioning work items by operation and result.",
		}, []string{"op", "result"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chainmgr_engine_inflight",
			Help: "Provisioning work items currently running.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chainmgr_engine_item_duration_seconds",
			Help:    "Duration of provisioning work items.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(m.items, m.inflight, m.duration)
	}
	return m
}

// Engine is the asynchronous execution engine.
type Engine struct {
	store   *storage.Storage
	prov    Provisioner
	rt      Runtime
	metrics *Metrics
	log     logrus.FieldLogger

	pool        *semaphore.Weighted
	hostLocks   *keylock.Map
	itemTimeout time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates an engine; it starts accepting work immediately.
func New(cfg config.EngineConfig, store *storage.Storage, prov Provisioner, rt Runtime, metrics *Metrics, log logrus.FieldLogger) *Engine {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       store,
		prov:        prov,
		rt:          rt,
		metrics:     metrics,
		log:         log,
		pool:        semaphore.NewWeighted(int64(workers)),
		hostLocks:   keylock.New(),
		itemTimeout: cfg.ItemTimeout,
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// submit queues fn as one work item labelled op.
func (e *Engine) submit(op models.OptionType, chainName string, fn func(ctx context.Context, log logrus.FieldLogger) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	id := uuid.NewString()
	log := e.log.WithFields(logrus.Fields{"item": id, "op": string(op), "chain": chainName})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		if err := e.pool.Acquire(e.baseCtx, 1); err != nil {
			log.Warnf("work item dropped: %v", err)
			e.metrics.items.WithLabelValues(string(op), "dropped").Inc()
			return
		}
		defer e.pool.Release(1)

		e.metrics.inflight.Inc()
		defer e.metrics.inflight.Dec()

		ctx := e.baseCtx
		if e.itemTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.itemTimeout)
			defer cancel()
		}

		start := time.Now()
		log.Info("work item started")
		err := e.run(ctx, log, fn)
		e.metrics.duration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())

		if err != nil {
			log.WithField("duration", time.Since(start)).Errorf("work item failed: %v", err)
			e.metrics.items.WithLabelValues(string(op), "failure").Inc()
			return
		}
		log.WithField("duration", time.Since(start)).Info("work item finished")
		e.metrics.items.WithLabelValues(string(op), "success").Inc()
	}()
	return nil
}

func (e *Engine) run(ctx context.Context, log logrus.FieldLogger, fn func(ctx context.Context, log logrus.FieldLogger) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, log)
}

// withHost runs fn while holding the lock of host.
func (e *Engine) withHost(host *models.Host, fn func() error) error {
	unlock := e.hostLocks.Lock(host.IP)
	defer unlock()
	return fn()
}

// Wait blocks until every submitted item has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Shutdown stops accepting work and waits for running items. When ctx ends
// first, queued items are dropped and running ones are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}
