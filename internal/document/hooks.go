package document

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"camo/internal/domain/repositories"

	"golang.org/x/sync/errgroup"
)

// Stage names a point in a document lifecycle where hooks run.
type Stage string

const (
	PreValidate  Stage = "preValidate"
	PostValidate Stage = "postValidate"
	PreSave      Stage = "preSave"
	PostSave     Stage = "postSave"
	PreDelete    Stage = "preDelete"
	PostDelete   Stage = "postDelete"
	PreFetch     Stage = "preFetch"
)

// HookEvent is what a hook receives.
type HookEvent struct {
	Stage    Stage
	Type     *Type
	Document *Document          // nil for PreFetch
	Query    repositories.Query // set for PreFetch
	Result   any                // delete result for PostDelete
}

// HookFunc is a lifecycle callback. Returning an error fails the stage.
type HookFunc func(ctx context.Context, ev *HookEvent) error

// HookPanicError is returned when a hook panics.
type HookPanicError struct {
	Stage Stage
	Value any
	Stack []byte
}

func (e *HookPanicError) Error() string {
	return fmt.Sprintf("%s hook panicked: %v", e.Stage, e.Value)
}

// hookRegistry holds ordered callbacks per stage.
type hookRegistry struct {
	mu    sync.RWMutex
	hooks map[Stage][]HookFunc
}

func (h *hookRegistry) add(stage Stage, fn HookFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hooks == nil {
		h.hooks = make(map[Stage][]HookFunc)
	}
	h.hooks[stage] = append(h.hooks[stage], fn)
}

func (h *hookRegistry) list(stage Stage) []HookFunc {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	fns := h.hooks[stage]
	out := make([]HookFunc, len(fns))
	copy(out, fns)
	return out
}

// runStage launches every hook of the stage together and waits for all of them.
// The first error (in completion order) fails the stage.
func runStage(ctx context.Context, ev HookEvent, fns []HookFunc) error {
	if len(fns) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, fn := range fns {
		evCopy := ev
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &HookPanicError{Stage: ev.Stage, Value: r, Stack: debug.Stack()}
				}
			}()
			return fn(gctx, &evCopy)
		})
	}
	return g.Wait()
}
