// SPDX-License-Identifier: Apache-2.0

package remedy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kusari-oss/remedy/internal/core/logging"
	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/audit"
	"go.uber.org/zap"
)

// ResultHandler observes every action result. A returned error or a panic
// is logged and audited; the remaining handlers still run.
type ResultHandler func(result models.ActionResult) error

type handlerEntry struct {
	id string
	fn ResultHandler
}

type handlerRegistry struct {
	mu      sync.RWMutex
	entries []handlerEntry
}

func (r *handlerRegistry) add(fn ResultHandler) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.entries = append(r.entries, handlerEntry{id: id, fn: fn})
	return id
}

func (r *handlerRegistry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *handlerRegistry) snapshot() []handlerEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]handlerEntry(nil), r.entries...)
}

// RegisterResultHandler adds fn to the handlers called after every action
// result and returns an id for UnregisterResultHandler
func (e *Engine) RegisterResultHandler(fn ResultHandler) string {
	return e.handlers.add(fn)
}

// UnregisterResultHandler removes a handler; it reports whether id was known
func (e *Engine) UnregisterResultHandler(id string) bool {
	return e.handlers.remove(id)
}

// dispatch runs in the executor's scheduling goroutine, in registration order
func (e *Engine) dispatch(result models.ActionResult) {
	for _, h := range e.handlers.snapshot() {
		if err := e.invoke(h, result); err != nil {
			ctx := logging.WithActionID(logging.WithPlanID(context.Background(), result.PlanID), result.ActionID)
			e.logger.Error(ctx, "result handler failed", zap.String("handler_id", h.id), zap.Error(err))
			e.audit.Log(ctx, result.PlanID, result.ActionID, audit.EventHandlerFailed,
				fmt.Sprintf("handler %s: %v", h.id, err))
		}
	}
}

func (e *Engine) invoke(h handlerEntry, result models.ActionResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()
	return h.fn(result)
}
