// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"sync"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// ResourceUsageOutput is the output value read as an action's resource usage
const ResourceUsageOutput = "resource_usage"

// Exporter receives every observation made by a Store or Metrics, for
// mirroring into an external metrics system
type Exporter interface {
	ObserveResult(result models.ActionResult)
	ObserveRollback(actionType string, outcome models.RollbackOutcome)
	ObserveAuditEvent(eventType string)
}

// Metrics aggregates action results. Averages are keyed by action type and
// metric kind.
type Metrics struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	rollbacks int64
	byType    map[string]*models.TypeMetrics
	averages  map[models.MetricKey]models.RunningAverage
	exporter  Exporter
}

// NewMetrics creates an empty aggregate. exporter may be nil.
func NewMetrics(exporter Exporter) *Metrics {
	return &Metrics{
		byType:   make(map[string]*models.TypeMetrics),
		averages: make(map[models.MetricKey]models.RunningAverage),
		exporter: exporter,
	}
}

func (m *Metrics) typeMetrics(actionType string) *models.TypeMetrics {
	tm, ok := m.byType[actionType]
	if !ok {
		tm = &models.TypeMetrics{ByStatus: make(map[models.ResultStatus]int64)}
		m.byType[actionType] = tm
	}
	return tm
}

func (m *Metrics) observe(actionType string, kind models.MetricKind, sample float64) {
	key := models.MetricKey{ActionType: actionType, Kind: kind}
	m.averages[key] = m.averages[key].Add(sample)
}

// RecordResult folds one action result into the aggregate
func (m *Metrics) RecordResult(result models.ActionResult) {
	m.mu.Lock()
	m.total++
	switch result.Status {
	case models.ResultSucceeded:
		m.succeeded++
	case models.ResultFailed, models.ResultTimedOut, models.ResultValidationFailed:
		m.failed++
	}

	tm := m.typeMetrics(result.ActionType)
	tm.Total++
	tm.ByStatus[result.Status]++

	if result.Attempts > 0 {
		m.observe(result.ActionType, models.MetricExecutionTime, float64(result.Duration.Milliseconds()))
		m.observe(result.ActionType, models.MetricAttempts, float64(result.Attempts))
	}
	if usage, ok := numeric(result.Values[ResourceUsageOutput]); ok {
		m.observe(result.ActionType, models.MetricResourceUsage, usage)
	}
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.ObserveResult(result)
	}
}

// RecordRollback folds one rollback outcome into the aggregate
func (m *Metrics) RecordRollback(actionType string, outcome models.RollbackOutcome) {
	m.mu.Lock()
	tm := m.typeMetrics(actionType)
	switch outcome.Status {
	case models.ResultRolledBack:
		m.rollbacks++
		tm.Rollbacks++
	case models.ResultRollbackFailed:
		tm.RollbackFailures++
	}
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.ObserveRollback(actionType, outcome)
	}
}

// Merge adds another snapshot into this aggregate without re-exporting it
func (m *Metrics) Merge(s models.MetricsSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total += s.Total
	m.succeeded += s.Succeeded
	m.failed += s.Failed
	m.rollbacks += s.Rollbacks
	for actionType, other := range s.ByType {
		tm := m.typeMetrics(actionType)
		tm.Total += other.Total
		tm.Rollbacks += other.Rollbacks
		tm.RollbackFailures += other.RollbackFailures
		for status, n := range other.ByStatus {
			tm.ByStatus[status] += n
		}
	}
	for key, other := range s.Averages {
		cur := m.averages[key]
		count := cur.Count + other.Count
		if count == 0 {
			continue
		}
		m.averages[key] = models.RunningAverage{
			Count: count,
			Mean:  (cur.Mean*float64(cur.Count) + other.Mean*float64(other.Count)) / float64(count),
		}
	}
}

// Snapshot returns a deep copy of the aggregate
func (m *Metrics) Snapshot() models.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.MetricsSnapshot{
		Total:     m.total,
		Succeeded: m.succeeded,
		Failed:    m.failed,
		Rollbacks: m.rollbacks,
		ByType:    make(map[string]models.TypeMetrics, len(m.byType)),
		Averages:  make(map[models.MetricKey]models.RunningAverage, len(m.averages)),
	}
	for t, tm := range m.byType {
		c := *tm
		c.ByStatus = make(map[models.ResultStatus]int64, len(tm.ByStatus))
		for k, v := range tm.ByStatus {
			c.ByStatus[k] = v
		}
		snap.ByType[t] = c
	}
	for k, v := range m.averages {
		snap.Averages[k] = v
	}
	return snap
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
