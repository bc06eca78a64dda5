// SPDX-License-Identifier: Apache-2.0

// Package state tracks the lifecycle of each action in a plan and derives the
// plan's aggregate state.
package state

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/kusari-oss/remedy/internal/core/models"
)

// InvalidStateTransitionError is returned for a transition the lifecycle
// does not allow. Nothing is recorded when it is returned.
type InvalidStateTransitionError struct {
	ActionID string
	From     models.State
	To       models.State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for action '%s': %s -> %s", e.ActionID, e.From, e.To)
}

var legal = map[models.State][]models.State{
	models.StateNotStarted: {models.StateInProgress, models.StateWaiting, models.StatePaused, models.StateFailed},
	models.StateInProgress: {models.StateCompleted, models.StateFailed, models.StateCancelled, models.StateWaiting, models.StatePaused},
	models.StateWaiting:    {models.StateInProgress},
	models.StatePaused:     {models.StateInProgress},
	models.StateCompleted:  {models.StateRolledBack},
	models.StateFailed:     {models.StateRolledBack},
}

// IsLegal reports whether from -> to is allowed. Failed -> InProgress is
// only allowed while a retry is pending.
func IsLegal(from, to models.State, retryPending bool) bool {
	if from == models.StateFailed && to == models.StateInProgress {
		return retryPending
	}
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ActionState is the lifecycle of one action. Transitions are serialized.
type ActionState struct {
	mu          sync.Mutex
	id          string
	clock       clock.Clock
	current     models.State
	retrying    bool
	attempts    int
	history     []models.StateChange
	lastUpdated time.Time
	observer    func(actionID string, change models.StateChange)
}

// Transition moves the action to state to, recording reason
func (s *ActionState) Transition(to models.State, reason string) error {
	return s.transition(to, reason, false)
}

// Start moves the action to InProgress for a new attempt
func (s *ActionState) Start(reason string) error {
	return s.transition(models.StateInProgress, reason, false)
}

// FailAttempt moves the action to Failed. When willRetry is set the failure
// is not terminal and the next Start is allowed.
func (s *ActionState) FailAttempt(reason string, willRetry bool) error {
	return s.transition(models.StateFailed, reason, willRetry)
}

func (s *ActionState) transition(to models.State, reason string, willRetry bool) error {
	s.mu.Lock()
	if !IsLegal(s.current, to, s.retrying) {
		from := s.current
		s.mu.Unlock()
		return &InvalidStateTransitionError{ActionID: s.id, From: from, To: to}
	}

	if to == models.StateInProgress {
		s.attempts++
	}
	now := s.clock.Now()
	change := models.StateChange{
		From:      s.current,
		To:        to,
		Reason:    reason,
		Attempt:   s.attempts,
		Timestamp: now,
	}
	s.history = append(s.history, change)
	s.current = to
	s.retrying = to == models.StateFailed && willRetry
	s.lastUpdated = now
	observer := s.observer
	s.mu.Unlock()

	if observer != nil {
		observer(s.id, change)
	}
	return nil
}

// Current returns the current state
func (s *ActionState) Current() models.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Retrying reports whether the action failed an attempt and will retry
func (s *ActionState) Retrying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retrying
}

// Attempts returns the number of times the action entered InProgress
func (s *ActionState) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Snapshot returns a copy of the action's status
func (s *ActionState) Snapshot() models.ActionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.ActionStatus{
		ActionID:    s.id,
		State:       s.current,
		Attempts:    s.attempts,
		History:     append([]models.StateChange(nil), s.history...),
		LastUpdated: s.lastUpdated,
	}
}

// Flags are the plan-level controls that feed the aggregate state
type Flags struct {
	AwaitingApproval bool
	Rejected         bool
	Cancelled        bool
	ValidationFailed bool
	Paused           bool
}

// Member is the per-action input to Aggregate
type Member struct {
	State    models.State
	Retrying bool
}

// Aggregate derives the plan state from its actions and control flags
func Aggregate(members []Member, flags Flags) models.State {
	switch {
	case flags.AwaitingApproval:
		return models.StateWaiting
	case flags.Rejected, flags.Cancelled:
		return models.StateCancelled
	case flags.ValidationFailed:
		return models.StateFailed
	}

	var completed, inProgress, rolledBack, paused, waiting, notStarted int
	for _, m := range members {
		switch m.State {
		case models.StateFailed:
			if !m.Retrying {
				return models.StateFailed
			}
			inProgress++
		case models.StateCompleted:
			completed++
		case models.StateInProgress:
			inProgress++
		case models.StateRolledBack:
			rolledBack++
		case models.StatePaused:
			paused++
		case models.StateWaiting:
			waiting++
		case models.StateCancelled:
			return models.StateCancelled
		default:
			notStarted++
		}
	}

	switch {
	case completed == len(members):
		return models.StateCompleted
	case inProgress > 0:
		return models.StateInProgress
	case rolledBack > 0:
		return models.StateRolledBack
	case flags.Paused || paused > 0:
		return models.StatePaused
	case waiting > 0:
		return models.StateWaiting
	case completed > 0:
		return models.StateInProgress
	}
	return models.StateNotStarted
}

// Machine holds the action states of one plan
type Machine struct {
	clock   clock.Clock
	order   []string
	actions map[string]*ActionState

	mu    sync.RWMutex
	flags Flags
}

// Option configures a Machine
type Option func(*Machine)

// WithClock sets the clock used for timestamps
func WithClock(c clock.Clock) Option {
	return func(m *Machine) { m.clock = c }
}

// WithObserver registers a callback invoked after every recorded transition
func WithObserver(fn func(actionID string, change models.StateChange)) Option {
	return func(m *Machine) {
		for _, s := range m.actions {
			s.observer = fn
		}
	}
}

// NewMachine creates a machine with every action in NotStarted
func NewMachine(actionIDs []string, opts ...Option) *Machine {
	m := &Machine{
		clock:   clock.New(),
		order:   append([]string(nil), actionIDs...),
		actions: make(map[string]*ActionState, len(actionIDs)),
	}
	for _, id := range actionIDs {
		m.actions[id] = &ActionState{id: id, current: models.StateNotStarted}
	}
	for _, opt := range opts {
		opt(m)
	}
	now := m.clock.Now()
	for _, s := range m.actions {
		s.clock = m.clock
		s.lastUpdated = now
	}
	return m
}

// Action returns the state of one action
func (m *Machine) Action(id string) (*ActionState, bool) {
	s, ok := m.actions[id]
	return s, ok
}

// Transition moves one action to state to
func (m *Machine) Transition(actionID string, to models.State, reason string) error {
	s, ok := m.actions[actionID]
	if !ok {
		return fmt.Errorf("unknown action '%s'", actionID)
	}
	return s.Transition(to, reason)
}

// Update applies fn to the plan flags
func (m *Machine) Update(fn func(*Flags)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.flags)
}

// Flags returns a copy of the plan flags
func (m *Machine) Flags() Flags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flags
}

// PlanState returns the aggregate plan state
func (m *Machine) PlanState() models.State {
	members := make([]Member, 0, len(m.order))
	for _, id := range m.order {
		s := m.actions[id]
		s.mu.Lock()
		members = append(members, Member{State: s.current, Retrying: s.retrying})
		s.mu.Unlock()
	}
	return Aggregate(members, m.Flags())
}

// Snapshots returns the status of every action in declaration order
func (m *Machine) Snapshots() []models.ActionStatus {
	out := make([]models.ActionStatus, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.actions[id].Snapshot())
	}
	return out
}

// LastUpdated returns the latest transition time across all actions
func (m *Machine) LastUpdated() time.Time {
	var latest time.Time
	for _, id := range m.order {
		s := m.actions[id]
		s.mu.Lock()
		if s.lastUpdated.After(latest) {
			latest = s.lastUpdated
		}
		s.mu.Unlock()
	}
	return latest
}

// InState returns the ids of actions currently in state, sorted
func (m *Machine) InState(state models.State) []string {
	var ids []string
	for _, id := range m.order {
		if m.actions[id].Current() == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
