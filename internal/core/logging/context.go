// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type planCtxKey struct{}
type actionCtxKey struct{}
type userCtxKey struct{}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if planID := PlanIDFromContext(ctx); planID != "" {
		fields = append(fields, zap.String("plan.id", planID))
	}
	if actionID := ActionIDFromContext(ctx); actionID != "" {
		fields = append(fields, zap.String("action.id", actionID))
	}
	if userID := UserIDFromContext(ctx); userID != "" {
		fields = append(fields, zap.String("user.id", userID))
	}
	return fields
}

// WithPlanID adds a plan id to ctx.
func WithPlanID(ctx context.Context, planID string) context.Context {
	return context.WithValue(ctx, planCtxKey{}, planID)
}

// PlanIDFromContext extracts the plan id from ctx.
func PlanIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(planCtxKey{}).(string)
	return s
}

// WithActionID adds an action id to ctx.
func WithActionID(ctx context.Context, actionID string) context.Context {
	return context.WithValue(ctx, actionCtxKey{}, actionID)
}

// ActionIDFromContext extracts the action id from ctx.
func ActionIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(actionCtxKey{}).(string)
	return s
}

// WithUserID records who initiated an operation. Audit entries use it as the actor.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserIDFromContext extracts the user id from ctx.
func UserIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(userCtxKey{}).(string)
	return s
}
