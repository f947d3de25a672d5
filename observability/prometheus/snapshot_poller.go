package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/Swind/go-taskpool/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// PoolSnapshotProvider provides current pool stats snapshots.
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// GroupSnapshotProvider provides current task group stats snapshots.
type GroupSnapshotProvider interface {
	Stats() core.GroupStats
}

// SnapshotPoller periodically exports pool/group Stats() snapshots into Prometheus gauges.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	groupsMu sync.RWMutex
	groups   map[string]GroupSnapshotProvider

	poolQueued   *prom.GaugeVec
	poolActive   *prom.GaugeVec
	poolWorkers  *prom.GaugeVec
	poolRunning  *prom.GaugeVec
	poolExecuted *prom.GaugeVec
	poolInline   *prom.GaugeVec

	groupPending *prom.GaugeVec
	groupWaiters *prom.GaugeVec
	groupCycles  *prom.GaugeVec
	groupHelped  *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	gauge := func(name, help string, labels ...string) *prom.GaugeVec {
		return prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "taskpool",
			Name:      name,
			Help:      help,
		}, labels)
	}

	p := &SnapshotPoller{
		interval: interval,
		pools:    make(map[string]PoolSnapshotProvider),
		groups:   make(map[string]GroupSnapshotProvider),

		poolQueued:   gauge("pool_queued", "Queued tasks per pool.", "pool"),
		poolActive:   gauge("pool_active", "Executing tasks per pool.", "pool"),
		poolWorkers:  gauge("pool_workers", "Worker count per pool.", "pool"),
		poolRunning:  gauge("pool_running", "Pool running state (1=running, 0=stopped).", "pool"),
		poolExecuted: gauge("pool_executed_total", "Executed task count snapshot per pool.", "pool"),
		poolInline:   gauge("pool_inline_total", "Tasks executed through ProcessTask, snapshot per pool.", "pool"),

		groupPending: gauge("group_pending", "Pending element count per task group.", "group"),
		groupWaiters: gauge("group_waiters", "Goroutines blocked in Wait per task group.", "group"),
		groupCycles:  gauge("group_cycles_total", "Idle to active transitions per task group.", "group"),
		groupHelped:  gauge("group_helped_total", "Tasks run by waiters per task group.", "group"),
	}

	for _, g := range []**prom.GaugeVec{
		&p.poolQueued, &p.poolActive, &p.poolWorkers, &p.poolRunning, &p.poolExecuted, &p.poolInline,
		&p.groupPending, &p.groupWaiters, &p.groupCycles, &p.groupHelped,
	} {
		registered, err := registerCollector(reg, *g)
		if err != nil {
			return nil, err
		}
		*g = registered
	}

	return p, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// AddGroup adds or replaces a task group snapshot provider by name.
func (p *SnapshotPoller) AddGroup(name string, provider GroupSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "group")
	p.groupsMu.Lock()
	p.groups[name] = provider
	p.groupsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.stateMu.Unlock()

	go p.loop(pollCtx, done)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

// CollectOnce takes one snapshot of every registered provider. The final
// state of a stopped pool can be published this way.
func (p *SnapshotPoller) CollectOnce() {
	if p == nil {
		return
	}
	p.collectOnce()
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	for name, provider := range p.pools {
		stats := provider.Stats()
		p.poolQueued.WithLabelValues(name).Set(float64(stats.Queued))
		p.poolActive.WithLabelValues(name).Set(float64(stats.Active))
		p.poolWorkers.WithLabelValues(name).Set(float64(stats.Workers))
		p.poolExecuted.WithLabelValues(name).Set(float64(stats.Executed))
		p.poolInline.WithLabelValues(name).Set(float64(stats.Inline))
		if stats.Running {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
	}
	p.poolsMu.RUnlock()

	p.groupsMu.RLock()
	for name, provider := range p.groups {
		stats := provider.Stats()
		p.groupPending.WithLabelValues(name).Set(float64(stats.Pending))
		p.groupWaiters.WithLabelValues(name).Set(float64(stats.Waiters))
		p.groupCycles.WithLabelValues(name).Set(float64(stats.Cycles))
		p.groupHelped.WithLabelValues(name).Set(float64(stats.Helped))
	}
	p.groupsMu.RUnlock()
}
