package health

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"homeguard/internal/config"
	"homeguard/internal/model"
)

// EntityState is one entity's current state as read from the host. A nil
// Battery means the sensor is mains powered or does not report charge.
type EntityState struct {
	EntityID string
	State    string
	Battery  *float64
}

// StateReader polls entity states from the host.
type StateReader interface {
	EntityStates(ctx context.Context, ids []string) ([]EntityState, error)
}

// offline states as the host reports them.
func isOffline(state string) bool {
	return state == "unavailable" || state == "unknown" || state == ""
}

// Monitor watches the configured sensors for offline devices, low
// batteries and the jamming signature: several battery-powered sensors
// dropping out at once. Its output is advisory and never feeds the
// confirmation logic.
type Monitor struct {
	reader  StateReader
	sensors []string
	cfg     config.HealthConfig
	logger  *slog.Logger
	started time.Time
	now     func() time.Time

	// OnReport receives every poll result.
	OnReport func(model.HealthReport)
}

func NewMonitor(reader StateReader, sensors []string, cfg config.HealthConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		reader:  reader,
		sensors: sensors,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
	}
}

// Check performs one poll and builds the report.
func (m *Monitor) Check(ctx context.Context) (model.HealthReport, error) {
	report := model.HealthReport{
		Healthy:      true,
		SensorsTotal: len(m.sensors),
		BatteryMin:   100,
	}
	if m.now().Sub(m.started) < m.cfg.BootGrace {
		report.WarmingUp = true
	}
	if len(m.sensors) == 0 {
		return report, nil
	}

	states, err := m.reader.EntityStates(ctx, m.sensors)
	if err != nil {
		return report, err
	}

	batteryPowered := 0
	offlineBattery := 0
	for _, s := range states {
		if s.Battery != nil {
			batteryPowered++
			if *s.Battery < report.BatteryMin {
				report.BatteryMin = *s.Battery
			}
			if *s.Battery < m.cfg.BatteryThreshold {
				report.LowBattery = append(report.LowBattery, model.LowBattery{
					EntityID: s.EntityID,
					Name:     s.EntityID,
					Battery:  *s.Battery,
				})
			}
		} else {
			report.PoweredSensors = append(report.PoweredSensors, s.EntityID)
		}
		if isOffline(s.State) {
			report.SensorsOffline = append(report.SensorsOffline, s.EntityID)
			if s.Battery != nil {
				offlineBattery++
			}
		}
	}
	sort.Strings(report.SensorsOffline)

	if len(report.SensorsOffline) > 0 || len(report.LowBattery) > 0 {
		report.Healthy = false
	}

	// Jamming looks like a coordinated dropout of radio sensors. Mains
	// powered sensors on wired links do not count toward it.
	if !report.WarmingUp && batteryPowered > 0 {
		pct := float64(offlineBattery) / float64(batteryPowered) * 100
		if offlineBattery >= m.cfg.JammingMinDevices && pct >= m.cfg.JammingMinPercent {
			report.Jamming = true
			report.JammingReason = "multiple battery sensors offline simultaneously"
			report.Healthy = false
		}
	}
	return report, nil
}

// Run polls until the context is cancelled, delivering each report to
// OnReport.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := m.Check(ctx)
			if err != nil {
				m.logger.Error("health poll failed", "error", err)
				continue
			}
			if report.Jamming {
				m.logger.Warn("possible jamming detected",
					"offline", report.SensorsOffline, "reason", report.JammingReason)
			}
			if m.OnReport != nil {
				m.OnReport(report)
			}
		}
	}
}
