// SPDX-License-Identifier: Apache-2.0

// Package audit keeps the append-only audit trail and the execution metrics.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"go.uber.org/zap"
)

// Event types recorded by the engine
const (
	EventPlanSubmitted     = "plan_submitted"
	EventRiskAssessed      = "risk_assessed"
	EventApprovalRequired  = "approval_required"
	EventPlanApproved      = "plan_approved"
	EventPlanRejected      = "plan_rejected"
	EventPlanStarted       = "plan_started"
	EventPlanPaused        = "plan_paused"
	EventPlanResumed       = "plan_resumed"
	EventPlanCancelled     = "plan_cancelled"
	EventPlanCompleted     = "plan_completed"
	EventPlanFailed        = "plan_failed"
	EventValidationFailed  = "validation_failed"
	EventValidationWarning = "validation_warning"
	EventStateChanged      = "state_changed"
	EventActionCompleted   = "action_completed"
	EventActionRetry       = "action_retry"
	EventActionFailed      = "action_failed"
	EventActionSkipped     = "action_skipped"
	EventRollbackStarted   = "rollback_started"
	EventActionRolledBack  = "action_rolled_back"
	EventRollbackFailed    = "rollback_failed"
	EventRollbackSkipped   = "rollback_skipped"
	EventRollbackFinished  = "rollback_finished"
	EventHandlerFailed     = "handler_failed"
	EventAuditCleared      = "audit_cleared"
)

// DefaultSystemUser is recorded when no user is present in the context
const DefaultSystemUser = "system"

// Filter selects audit entries. Zero fields match everything; the time range
// is inclusive.
type Filter struct {
	PlanID    string
	ActionID  string
	EventType string
	UserID    string
	From      time.Time
	To        time.Time
}

// Matches reports whether e satisfies every set field of f
func (f Filter) Matches(e models.AuditEntry) bool {
	switch {
	case f.PlanID != "" && e.PlanID != f.PlanID:
		return false
	case f.ActionID != "" && e.ActionID != f.ActionID:
		return false
	case f.EventType != "" && e.EventType != f.EventType:
		return false
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case !f.From.IsZero() && e.Timestamp.Before(f.From):
		return false
	case !f.To.IsZero() && e.Timestamp.After(f.To):
		return false
	}
	return true
}

// Store is an append-only audit log shared by all plans. The lock covers the
// append only.
type Store struct {
	clock      clock.Clock
	systemUser string
	exporter   Exporter
	logger     *logging.Logger

	mu       sync.Mutex
	sequence uint64
	entries  []models.AuditEntry
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock sets the clock used for timestamps
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// WithSystemUser sets the user recorded when the context carries none
func WithSystemUser(user string) StoreOption {
	return func(s *Store) {
		if user != "" {
			s.systemUser = user
		}
	}
}

// WithExporter mirrors every recorded event type to e
func WithExporter(e Exporter) StoreOption {
	return func(s *Store) { s.exporter = e }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) StoreOption {
	return func(s *Store) { s.logger = logging.OrNop(l) }
}

// NewStore creates an empty store
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		clock:      clock.New(),
		systemUser: DefaultSystemUser,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends entry, filling in id, sequence, timestamp and user
func (s *Store) Record(ctx context.Context, entry models.AuditEntry) models.AuditEntry {
	entry.ID = uuid.NewString()
	if entry.UserID == "" {
		entry.UserID = logging.UserIDFromContext(ctx)
	}
	if entry.UserID == "" {
		entry.UserID = s.systemUser
	}

	s.mu.Lock()
	s.sequence++
	entry.Sequence = s.sequence
	entry.Timestamp = s.clock.Now()
	s.entries = append(s.entries, entry)
	s.mu.Unlock()

	if s.exporter != nil {
		s.exporter.ObserveAuditEvent(entry.EventType)
	}
	s.logger.Debug(ctx, "audit",
		zap.Uint64("sequence", entry.Sequence),
		zap.String("event", entry.EventType),
		zap.String("plan_id", entry.PlanID),
		zap.String("action_id", entry.ActionID),
		zap.String("details", entry.Details))
	return entry
}

// Log is a shorthand for Record
func (s *Store) Log(ctx context.Context, planID, actionID, eventType, details string) models.AuditEntry {
	return s.Record(ctx, models.AuditEntry{
		PlanID:    planID,
		ActionID:  actionID,
		EventType: eventType,
		Details:   details,
	})
}

// Entries returns a copy of the matching entries in sequence order
func (s *Store) Entries(filter Filter) []models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.AuditEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every entry and records a single audit_cleared entry naming
// who cleared the log and why. Sequence numbers keep increasing.
func (s *Store) Clear(ctx context.Context, userID, reason string) (int, models.AuditEntry) {
	if userID == "" {
		userID = s.systemUser
	}
	entry := models.AuditEntry{
		ID:        uuid.NewString(),
		EventType: EventAuditCleared,
		Details:   reason,
		UserID:    userID,
	}

	s.mu.Lock()
	removed := len(s.entries)
	s.sequence++
	entry.Sequence = s.sequence
	entry.Timestamp = s.clock.Now()
	s.entries = []models.AuditEntry{entry}
	s.mu.Unlock()

	if s.exporter != nil {
		s.exporter.ObserveAuditEvent(entry.EventType)
	}
	s.logger.Info(ctx, "audit log cleared",
		zap.String("user_id", userID),
		zap.String("reason", reason),
		zap.Int("removed", removed))
	return removed, entry
}
