package clog

import (
	"context"
	"maps"
	"sync"
)

// Attribute keys shared by every component that logs pipeline activity.
const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"

	RunIDKey   = "run_id"
	TaskIDKey  = "task_id"
	AgentIDKey = "agent_id"
	AttemptKey = "attempt"
)

type attributeSet struct {
	mu    sync.RWMutex
	attrs map[string]any
}

type attributeSetKey struct{}

// ContextWithSlog returns a child context carrying a fresh attribute set.
// Attributes already present on ctx are copied so that nested scopes
// (run -> task -> attempt) inherit their parent's fields without sharing
// the parent's map.
func ContextWithSlog(ctx context.Context) context.Context {
	set := &attributeSet{attrs: make(map[string]any)}
	if parent, ok := ctx.Value(attributeSetKey{}).(*attributeSet); ok {
		parent.mu.RLock()
		maps.Copy(set.attrs, parent.attrs)
		parent.mu.RUnlock()
	}
	return context.WithValue(ctx, attributeSetKey{}, set)
}

// With is ContextWithSlog followed by AddAttributes.
func With(ctx context.Context, attrs map[string]any) context.Context {
	ctx = ContextWithSlog(ctx)
	AddAttributes(ctx, attrs)
	return ctx
}

func AddAttribute(ctx context.Context, key string, value any) {
	set, ok := ctx.Value(attributeSetKey{}).(*attributeSet)
	if !ok {
		return
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	set.attrs[key] = value
}

func AddAttributes(ctx context.Context, attrs map[string]any) {
	set, ok := ctx.Value(attributeSetKey{}).(*attributeSet)
	if !ok {
		return
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	mergeMaps(set.attrs, attrs)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	set, ok := ctx.Value(attributeSetKey{}).(*attributeSet)
	if !ok {
		return zero
	}
	set.mu.RLock()
	v, ok := set.attrs[key]
	set.mu.RUnlock()
	if !ok {
		return zero
	}
	typed, ok := v.(T)
	if !ok {
		return zero
	}
	return typed
}

func GetAttributes(ctx context.Context) map[string]any {
	set, ok := ctx.Value(attributeSetKey{}).(*attributeSet)
	if !ok {
		return nil
	}
	set.mu.RLock()
	defer set.mu.RUnlock()
	return maps.Clone(set.attrs)
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if dstSub, ok := dst[k].(map[string]any); ok {
			mergeMaps(dstSub, sub)
		} else {
			dst[k] = sub
		}
	}
}

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}
