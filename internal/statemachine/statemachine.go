package statemachine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"homeguard/internal/model"
	"homeguard/internal/sched"
)

// Callbacks are invoked outside the machine's lock, in the order the
// transitions happened.
type Callbacks struct {
	// OnTransition fires on every state change.
	OnTransition func(from, to model.AlarmState, reason string)
	// OnExitDelayDone fires when the arming countdown completes.
	OnExitDelayDone func(mode model.AlarmState)
	// OnEntryDelayExpired fires when the entry countdown elapses without a
	// disarm. The caller escalates to pre-alarm processing.
	OnEntryDelayExpired func()
}

// Machine sequences the alarm lifecycle: disarmed, the arming countdown,
// the two armed modes, the entry-delay pending state, pre-alarm,
// confirmed and fault. It owns the exit and entry delay timers; intrusion
// decisions live elsewhere.
type Machine struct {
	mu         sync.Mutex
	state      model.AlarmState
	armedMode  model.AlarmState // mode backing pending/pre_alarm/confirmed
	entryDelay time.Duration
	exitDelay  time.Duration
	timer      sched.Timer
	gen        uint64

	scheduler sched.Scheduler
	logger    *slog.Logger
	cb        Callbacks
}

func New(entryDelay, exitDelay time.Duration, scheduler sched.Scheduler, logger *slog.Logger, cb Callbacks) *Machine {
	if scheduler == nil {
		scheduler = sched.System()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		state:      model.StateDisarmed,
		entryDelay: entryDelay,
		exitDelay:  exitDelay,
		scheduler:  scheduler,
		logger:     logger,
		cb:         cb,
	}
}

func (m *Machine) State() model.AlarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ArmedMode returns the armed mode backing the current episode. It stays
// meaningful through pending, pre_alarm and alarm_confirmed.
func (m *Machine) ArmedMode() model.AlarmState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armedMode
}

// Arm starts the arming sequence toward the given mode. A zero exit delay
// arms immediately.
func (m *Machine) Arm(mode model.AlarmState) error {
	if !mode.IsArmedMode() {
		return fmt.Errorf("cannot arm to %q", mode)
	}
	m.mu.Lock()
	if m.state != model.StateDisarmed {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot arm from %q", cur)
	}
	m.armedMode = mode
	if m.exitDelay <= 0 {
		fire := m.transitionLocked(mode, "armed immediately")
		m.mu.Unlock()
		fire()
		return nil
	}
	fire := m.transitionLocked(model.StateArming, "exit delay started")
	m.cancelTimerLocked()
	gen := m.gen
	m.timer = m.scheduler.CallLater(m.exitDelay, func() { m.exitDelayDone(gen, mode) })
	m.mu.Unlock()
	fire()
	return nil
}

func (m *Machine) exitDelayDone(gen uint64, mode model.AlarmState) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.StateArming {
		m.mu.Unlock()
		return
	}
	fire := m.transitionLocked(mode, "exit delay elapsed")
	m.mu.Unlock()
	fire()
	if m.cb.OnExitDelayDone != nil {
		m.cb.OnExitDelayDone(mode)
	}
}

// Disarm returns to disarmed from any state, cancelling pending timers.
func (m *Machine) Disarm(reason string) {
	m.mu.Lock()
	if m.state == model.StateDisarmed {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	m.armedMode = ""
	fire := m.transitionLocked(model.StateDisarmed, reason)
	m.mu.Unlock()
	fire()
}

// StartEntryDelay moves an armed machine to pending and starts the entry
// countdown. A zero delay expires immediately.
func (m *Machine) StartEntryDelay() error {
	m.mu.Lock()
	if !m.state.IsArmedMode() {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("entry delay requires an armed state, was %q", cur)
	}
	fire := m.transitionLocked(model.StatePending, "entry delay started")
	m.cancelTimerLocked()
	gen := m.gen
	delay := m.entryDelay
	m.mu.Unlock()
	fire()
	if delay <= 0 {
		m.entryDelayExpired(gen)
		return nil
	}
	m.mu.Lock()
	if gen == m.gen && m.state == model.StatePending {
		m.timer = m.scheduler.CallLater(delay, func() { m.entryDelayExpired(gen) })
	}
	m.mu.Unlock()
	return nil
}

func (m *Machine) entryDelayExpired(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.StatePending {
		m.mu.Unlock()
		return
	}
	fire := m.transitionLocked(model.StatePreAlarm, "entry delay elapsed")
	m.mu.Unlock()
	fire()
	if m.cb.OnEntryDelayExpired != nil {
		m.cb.OnEntryDelayExpired()
	}
}

// TriggerPreAlarm moves armed or pending straight to pre_alarm, for
// non-perimeter first triggers that skip the entry grace.
func (m *Machine) TriggerPreAlarm() error {
	m.mu.Lock()
	if !m.state.IsArmedMode() && m.state != model.StatePending {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot enter pre_alarm from %q", cur)
	}
	m.cancelTimerLocked()
	fire := m.transitionLocked(model.StatePreAlarm, "correlation opened")
	m.mu.Unlock()
	fire()
	return nil
}

// Confirm latches the confirmed state from pre_alarm or pending.
func (m *Machine) Confirm() error {
	m.mu.Lock()
	switch m.state {
	case model.StateConfirmed:
		m.mu.Unlock()
		return nil
	case model.StatePreAlarm, model.StatePending:
	default:
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot confirm from %q", cur)
	}
	m.cancelTimerLocked()
	fire := m.transitionLocked(model.StateConfirmed, "intrusion confirmed")
	m.mu.Unlock()
	fire()
	return nil
}

// ResetToArmed returns pending or pre_alarm to the armed mode the episode
// started from, after a correlation timeout.
func (m *Machine) ResetToArmed(reason string) error {
	m.mu.Lock()
	if m.state != model.StatePreAlarm && m.state != model.StatePending {
		cur := m.state
		m.mu.Unlock()
		return fmt.Errorf("cannot reset to armed from %q", cur)
	}
	mode := m.armedMode
	if !mode.IsArmedMode() {
		mode = model.StateArmedAway
	}
	m.cancelTimerLocked()
	fire := m.transitionLocked(mode, reason)
	m.mu.Unlock()
	fire()
	return nil
}

// Fault marks the system unhealthy without losing the armed mode.
func (m *Machine) Fault(reason string) {
	m.mu.Lock()
	if m.state == model.StateFault {
		m.mu.Unlock()
		return
	}
	m.cancelTimerLocked()
	fire := m.transitionLocked(model.StateFault, reason)
	m.mu.Unlock()
	fire()
}

// SyncExternal adopts a state reported by the host alarm panel, keeping
// the machine consistent when the user operates the panel directly. Echoes
// arriving while an episode is live are ignored: the panel lags behind the
// pending, pre-alarm and confirmed states it knows nothing about, and a
// stale echo must not end the episode.
func (m *Machine) SyncExternal(state model.AlarmState) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	switch cur := m.state; cur {
	case model.StatePending, model.StatePreAlarm, model.StateConfirmed:
		m.mu.Unlock()
		m.logger.Debug("panel sync ignored during active episode",
			"state", string(cur), "panel_state", string(state))
		return
	}
	m.cancelTimerLocked()
	if state.IsArmedMode() {
		m.armedMode = state
	}
	if state == model.StateDisarmed {
		m.armedMode = ""
	}
	fire := m.transitionLocked(state, "panel sync")
	m.mu.Unlock()
	fire()
}

func (m *Machine) cancelTimerLocked() {
	m.gen++
	if m.timer != nil {
		m.timer.Cancel()
		m.timer = nil
	}
}

// transitionLocked updates state and returns the callback to invoke once
// the lock is released.
func (m *Machine) transitionLocked(to model.AlarmState, reason string) func() {
	from := m.state
	m.state = to
	m.logger.Info("alarm state", "from", string(from), "to", string(to), "reason", reason)
	cb := m.cb.OnTransition
	if cb == nil {
		return func() {}
	}
	return func() { cb(from, to, reason) }
}
