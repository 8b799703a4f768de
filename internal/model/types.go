package model

import "time"

// AlarmState is one of the states the alarm sequencer can be in.
type AlarmState string

const (
	StateDisarmed  AlarmState = "disarmed"
	StateArming    AlarmState = "arming"
	StateArmedAway AlarmState = "armed_away"
	StateArmedHome AlarmState = "armed_home"
	StatePending   AlarmState = "pending"
	StatePreAlarm  AlarmState = "pre_alarm"
	StateConfirmed AlarmState = "alarm_confirmed"
	StateFault     AlarmState = "fault"
)

// EventKind classifies rows in the persisted event log.
type EventKind string

const (
	EventArm        EventKind = "arm"
	EventDisarm     EventKind = "disarm"
	EventTrigger    EventKind = "trigger"
	EventConfirm    EventKind = "confirm"
	EventTimeout    EventKind = "timeout"
	EventFault      EventKind = "fault"
	EventReset      EventKind = "reset"
	EventJamming    EventKind = "jamming"
	EventEntryDelay EventKind = "entry_delay"
	EventExitDelay  EventKind = "exit_delay"
	EventAbort      EventKind = "abort"
)

// SensorType is derived structurally from zone membership and naming,
// never declared in configuration.
type SensorType string

const (
	SensorContact SensorType = "contact"
	SensorRadar   SensorType = "radar"
	SensorMotion  SensorType = "motion"
	SensorPerson  SensorType = "person"
)

// Observation is one sensor activation as delivered by the host adapter,
// already filtered to became-active transitions and deduplicated.
type Observation struct {
	EntityID  string    `json:"entity_id"`
	Name      string    `json:"name"`
	IsOn      bool      `json:"is_on"`
	Timestamp time.Time `json:"timestamp"`
}

// PersonDetection is a camera-sourced person event.
type PersonDetection struct {
	Camera     string    `json:"camera"`
	EventID    string    `json:"event_id,omitempty"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// TriggerEvent is an immutable record of one scored activation inside an
// episode. It lives for the duration of the correlation window.
type TriggerEvent struct {
	EntityID   string     `json:"entity_id"`
	EntityName string     `json:"entity_name"`
	SensorType SensorType `json:"sensor_type"`
	Score      int        `json:"score"`
	ZoneID     string     `json:"zone_id"`
	ZoneName   string     `json:"zone_name"`
	Timestamp  time.Time  `json:"timestamp"`
}

// EventBreakdown is one line of the per-zone event breakdown handed to the
// confirmation callback for notification formatting.
type EventBreakdown struct {
	EntityID string     `json:"entity_id,omitempty"`
	Type     SensorType `json:"type"`
	Name     string     `json:"name"`
	Score    int        `json:"score"`
	Zone     string     `json:"zone"`
}

// ConfirmationDetail carries everything downstream escalation needs,
// reconstructed at most once per episode.
type ConfirmationDetail struct {
	ZoneName      string           `json:"zone_name"`
	ConfirmedVia  string           `json:"confirmed_via"` // "local" or "global"
	TriggerSensor string           `json:"trigger_sensor"`
	TriggerName   string           `json:"trigger_name"`
	GlobalScore   float64          `json:"global_score"`
	Events        []EventBreakdown `json:"events"`
}

// ZoneSnapshot is a read-only view of one zone's correlation state.
type ZoneSnapshot struct {
	ZoneID     string           `json:"zone_id"`
	ZoneName   string           `json:"zone_name"`
	Profile    string           `json:"profile"`
	Active     bool             `json:"is_active"`
	TotalScore int              `json:"total_score"`
	Threshold  int              `json:"threshold"`
	Events     []EventBreakdown `json:"events"`
}

// EngineSnapshot is a read-only view of the whole engine.
type EngineSnapshot struct {
	GlobalScore     float64        `json:"global_score"`
	GlobalThreshold int            `json:"global_threshold"`
	FirstZone       string         `json:"first_zone,omitempty"`
	Confirmed       bool           `json:"confirmed"`
	Zones           []ZoneSnapshot `json:"zones"`
}

// LogEntry is one row of the persisted audit log. The learner trains on
// trigger/confirm/timeout rows.
type LogEntry struct {
	ID         int64     `json:"id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	EventType  EventKind `json:"event_type"`
	StateFrom  string    `json:"state_from,omitempty"`
	StateTo    string    `json:"state_to,omitempty"`
	SensorID   string    `json:"sensor_id,omitempty"`
	SensorName string    `json:"sensor_name,omitempty"`
	Score      int       `json:"correlation_score,omitempty"`
	Notes      string    `json:"notes,omitempty"`
}

// EscalationRecord tracks one delivery attempt on one channel.
type EscalationRecord struct {
	EventID      int64     `json:"event_id"`
	Timestamp    time.Time `json:"timestamp"`
	Channel      string    `json:"channel"`
	Success      bool      `json:"success"`
	RetryCount   int       `json:"retry_count"`
	ResponseTime float64   `json:"response_time,omitempty"`
}

// LowBattery describes one sensor under the battery threshold.
type LowBattery struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Battery  float64 `json:"battery"`
}

// HealthReport is the output of one monitor poll. It never feeds the
// confirmation logic.
type HealthReport struct {
	Healthy        bool         `json:"healthy"`
	WarmingUp      bool         `json:"warming_up"`
	SensorsTotal   int          `json:"sensors_total"`
	SensorsOffline []string     `json:"sensors_offline"`
	LowBattery     []LowBattery `json:"sensors_low_battery"`
	PoweredSensors []string     `json:"sensors_powered"`
	BatteryMin     float64      `json:"battery_min"`
	Jamming        bool         `json:"jamming_detected"`
	JammingReason  string       `json:"jamming_reason,omitempty"`
}

// AcceptsEvents reports whether the state lets the engine receive events.
func (s AlarmState) AcceptsEvents() bool {
	switch s {
	case StateArmedAway, StateArmedHome, StatePreAlarm:
		return true
	}
	return false
}

// IsArmedMode reports whether the state is one of the two arming modes a
// zone can be restricted to.
func (s AlarmState) IsArmedMode() bool {
	return s == StateArmedAway || s == StateArmedHome
}
