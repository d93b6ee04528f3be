package health

import (
	"context"
	"time"

	"github.com/posedge/edge/pkg/metrics"
)

// Monitor runs a Checker on an interval and reports its Result to
// pkg/metrics under a named component, the same checker/ticker loop
// that used to run per container, narrowed here to this edge's two
// externally-reachable dependencies: Cloud and the local bus listener.
type Monitor struct {
	name    string
	checker Checker
	config  Config
	status  *Status
	cancel  context.CancelFunc
}

// NewMonitor builds a Monitor that is not yet running; call Start.
func NewMonitor(name string, checker Checker, config Config) *Monitor {
	return &Monitor{
		name:    name,
		checker: checker,
		config:  config,
		status:  NewStatus(),
	}
}

func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) loop(ctx context.Context) {
	if m.config.StartPeriod > 0 {
		select {
		case <-time.After(m.config.StartPeriod):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.runCheck(ctx)
	for {
		select {
		case <-ticker.C:
			m.runCheck(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) runCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	result := m.checker.Check(checkCtx)
	m.status.Update(result, m.config)
	metrics.RegisterComponent(m.name, m.status.Healthy, result.Message)
}
