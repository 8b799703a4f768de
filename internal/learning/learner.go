package learning

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"homeguard/internal/model"
)

// pattern accumulates per-sensor outcome statistics. A timeout outcome is
// definitionally a false alarm: no corroborating signal arrived in time.
type pattern struct {
	totalTriggers   int
	falseAlarms     int
	confirmedAlarms int
	hourlyTriggers  [24]int
	hourlyFalse     [24]int
}

// EventSource supplies historical event-log rows for training.
type EventSource interface {
	RecentEvents(ctx context.Context, limit int) ([]model.LogEntry, error)
}

// Reliability summarizes how trustworthy a sensor has proven to be.
type Reliability struct {
	Rating          string  `json:"reliability"`
	TotalTriggers   int     `json:"total_triggers"`
	FalseAlarms     int     `json:"false_alarms"`
	ConfirmedAlarms int     `json:"confirmed_alarms"`
	FalseAlarmRate  float64 `json:"false_alarm_rate"`
}

// Stats is an aggregate view over all learned sensors.
type Stats struct {
	SensorsAnalyzed  int             `json:"total_sensors_analyzed"`
	ExcellentSensors int             `json:"excellent_sensors"`
	PoorSensors      int             `json:"poor_sensors"`
	Enabled          bool            `json:"learning_enabled"`
	HourlyRates      map[int]float64 `json:"hourly_false_alarm_rates"`
}

// Learner adjusts event scores from historical false-alarm statistics and
// keeps learning from episode outcomes.
type Learner struct {
	mu         sync.Mutex
	logger     *slog.Logger
	enabled    bool
	patterns   map[string]*pattern
	hourlyRate [24]float64
}

func New(logger *slog.Logger) *Learner {
	return &Learner{
		logger:   logger,
		enabled:  true,
		patterns: make(map[string]*pattern),
	}
}

// Train replays historical trigger/confirm/timeout rows into the model.
// Replaying the same rows twice double-counts; callers must train exactly
// once per stored event.
func (l *Learner) Train(ctx context.Context, src EventSource, limit int) error {
	if src == nil {
		return nil
	}
	if limit <= 0 {
		limit = 10000
	}
	events, err := src.RecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range events {
		l.analyze(ev)
	}
	l.recomputeHourly()
	if l.logger != nil {
		l.logger.Info("learner training complete", "events", len(events), "sensors", len(l.patterns))
	}
	return nil
}

func (l *Learner) analyze(ev model.LogEntry) {
	if ev.SensorID == "" {
		return
	}
	hour := ev.Timestamp.Hour()
	p := l.pattern(ev.SensorID)
	switch ev.EventType {
	case model.EventTrigger:
		p.totalTriggers++
		p.hourlyTriggers[hour]++
	case model.EventConfirm:
		p.confirmedAlarms++
	case model.EventTimeout:
		p.falseAlarms++
		p.hourlyFalse[hour]++
	}
}

func (l *Learner) pattern(sensorID string) *pattern {
	p, ok := l.patterns[sensorID]
	if !ok {
		p = &pattern{}
		l.patterns[sensorID] = p
	}
	return p
}

func (l *Learner) recomputeHourly() {
	var total, false24 [24]int
	for _, p := range l.patterns {
		for h := 0; h < 24; h++ {
			total[h] += p.hourlyTriggers[h]
			false24[h] += p.hourlyFalse[h]
		}
	}
	for h := 0; h < 24; h++ {
		if total[h] > 0 {
			l.hourlyRate[h] = float64(false24[h]) / float64(total[h]) * 100
		} else {
			l.hourlyRate[h] = 0
		}
	}
}

// AdjustScore applies the learned penalties and bonuses to a base score.
// The result never goes below zero. Failures upstream fall back to the
// unadjusted base score; this function itself never fails.
func (l *Learner) AdjustScore(sensorID string, sensorType model.SensorType, baseScore int, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return baseScore
	}

	adjustment := 0
	p := l.patterns[sensorID]

	if p != nil && p.totalTriggers >= 10 {
		rate := float64(p.falseAlarms) / float64(p.totalTriggers) * 100
		switch {
		case rate > 80:
			adjustment -= 30
		case rate > 60:
			adjustment -= 20
		case rate > 40:
			adjustment -= 10
		case rate < 10:
			adjustment += 10
		}
	}

	hourRate := l.hourlyRate[now.Hour()]
	switch {
	case hourRate > 70:
		adjustment -= 20
	case hourRate > 50:
		adjustment -= 10
	case hourRate < 10:
		adjustment += 5
	}

	// PIR motion sensors with a terrible track record get an extra penalty.
	if sensorType == model.SensorMotion && p != nil && p.totalTriggers >= 5 {
		rate := float64(p.falseAlarms) / float64(p.totalTriggers) * 100
		if rate > 90 {
			adjustment -= 15
		}
	}

	adjusted := baseScore + adjustment
	if adjusted < 0 {
		adjusted = 0
	}
	if adjustment != 0 && l.logger != nil {
		l.logger.Info("score adjusted", "sensor_id", sensorID, "base", baseScore, "adjusted", adjusted)
	}
	return adjusted
}

// LearnOutcome updates the model after an episode concludes.
func (l *Learner) LearnOutcome(sensorID string, falseAlarm bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || sensorID == "" {
		return
	}
	p := l.pattern(sensorID)
	if falseAlarm {
		p.falseAlarms++
		p.hourlyFalse[now.Hour()]++
	} else {
		p.confirmedAlarms++
	}
	l.recomputeHourly()
}

// RecordTrigger counts a live trigger into the hourly distribution.
func (l *Learner) RecordTrigger(sensorID string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled || sensorID == "" {
		return
	}
	p := l.pattern(sensorID)
	p.totalTriggers++
	p.hourlyTriggers[now.Hour()]++
	l.recomputeHourly()
}

// SensorReliability returns the learned reliability metrics for a sensor.
func (l *Learner) SensorReliability(sensorID string) Reliability {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.patterns[sensorID]
	if !ok {
		return Reliability{Rating: "unknown"}
	}
	rate := 0.0
	if p.totalTriggers > 0 {
		rate = float64(p.falseAlarms) / float64(p.totalTriggers) * 100
	}
	rating := "insufficient_data"
	if p.totalTriggers >= 5 {
		switch {
		case rate < 10:
			rating = "excellent"
		case rate < 30:
			rating = "good"
		case rate < 50:
			rating = "fair"
		case rate < 70:
			rating = "poor"
		default:
			rating = "unreliable"
		}
	}
	return Reliability{
		Rating:          rating,
		TotalTriggers:   p.totalTriggers,
		FalseAlarms:     p.falseAlarms,
		ConfirmedAlarms: p.confirmedAlarms,
		FalseAlarmRate:  rate,
	}
}

// FalseAlarmRate returns the sensor's learned rate in percent, or -1 when
// there is no data (so the adaptive calculator can skip the multiplier).
func (l *Learner) FalseAlarmRate(sensorID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.patterns[sensorID]
	if !ok || p.totalTriggers == 0 {
		return -1
	}
	return float64(p.falseAlarms) / float64(p.totalTriggers) * 100
}

// HourlyRisk buckets each hour of day by its global false-alarm rate.
func (l *Learner) HourlyRisk() map[int]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]string, 24)
	for h := 0; h < 24; h++ {
		rate := l.hourlyRate[h]
		switch {
		case rate < 20:
			out[h] = "low"
		case rate < 40:
			out[h] = "medium"
		case rate < 60:
			out[h] = "high"
		default:
			out[h] = "very_high"
		}
	}
	return out
}

// Statistics returns an aggregate summary.
func (l *Learner) Statistics() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		SensorsAnalyzed: len(l.patterns),
		Enabled:         l.enabled,
		HourlyRates:     make(map[int]float64, 24),
	}
	for h := 0; h < 24; h++ {
		s.HourlyRates[h] = l.hourlyRate[h]
	}
	for _, p := range l.patterns {
		if p.totalTriggers < 5 {
			continue
		}
		rate := float64(p.falseAlarms) / float64(p.totalTriggers)
		if rate < 0.1 {
			s.ExcellentSensors++
		}
		if rate > 0.7 {
			s.PoorSensors++
		}
	}
	return s
}

// Reset drops every learned pattern.
func (l *Learner) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patterns = make(map[string]*pattern)
	l.hourlyRate = [24]float64{}
}

// SetEnabled toggles learning and adjustment, for host-driven maintenance.
func (l *Learner) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}
