package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/model"
)

// defaultCheckInterval applies when check_interval_secs is unset.
const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on an interval. Each snapshot is published
// as gauges; an alert is posted when it starts firing and not again until
// it has cleared.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration
	lookback  int

	firing map[AlertType]bool
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  interval,
		lookback:  cfg.LookbackWindowHours,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks once, then on every tick until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started",
		zap.Duration("interval", c.interval),
		zap.Int("lookback_hours", c.lookback),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot and posts the alerts that began firing since
// the previous check. It returns those alerts. Check is not safe for
// concurrent use.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		zap.L().Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}
	publish(snap)

	fresh := c.transition(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	zap.L().Info("monitoring: alerts raised",
		zap.Int("alerts_raised", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return fresh
}

// transition records which alert types fire now and returns the alerts
// that were not firing before.
func (c *Checker) transition(alerts []Alert) []Alert {
	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !c.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	for t := range c.firing {
		if !now[t] {
			AlertsFiring.WithLabelValues(string(t)).Set(0)
			zap.L().Info("monitoring: alert cleared", zap.String("type", string(t)))
		}
	}
	for t := range now {
		AlertsFiring.WithLabelValues(string(t)).Set(1)
	}
	c.firing = now
	return fresh
}

func publish(snap *MetricsSnapshot) {
	WindowRuns.WithLabelValues(string(model.RunStatusComplete)).Set(float64(snap.RunsComplete))
	WindowRuns.WithLabelValues(string(model.RunStatusStopped)).Set(float64(snap.RunsStopped))
	WindowRuns.WithLabelValues(string(model.RunStatusFailed)).Set(float64(snap.RunsFailed))
	WindowRuns.WithLabelValues("active").Set(float64(snap.RunsActive))
	WindowCostUSD.Set(snap.CostUSD)
}
