package services

import (
	"context"
	"sync"
	"time"
)

// HookFunc is one downstream reaction to a committed lifecycle transition,
// such as license issuance or commission processing.
type HookFunc func(ctx context.Context, orderID string) error

// HookDispatcherDeps wires the hook handlers.
type HookDispatcherDeps struct {
	OnCompleted []HookFunc
	OnRefunded  []HookFunc
	Logger      Logger
	Timeout     time.Duration
}

// HookDispatcher runs lifecycle hooks asynchronously. Hook failures are
// logged and never propagate: the triggering transition has already happened
// in the external system of record.
type HookDispatcher struct {
	onCompleted []HookFunc
	onRefunded  []HookFunc
	logger      Logger
	timeout     time.Duration
	wg          sync.WaitGroup
}

// NewHookDispatcher constructs the dispatcher. Zero handlers is valid.
func NewHookDispatcher(deps HookDispatcherDeps) *HookDispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HookDispatcher{
		onCompleted: deps.OnCompleted,
		onRefunded:  deps.OnRefunded,
		logger:      logger,
		timeout:     timeout,
	}
}

// OnOrderCompleted fires the completion hooks and returns immediately.
func (d *HookDispatcher) OnOrderCompleted(ctx context.Context, orderID string) {
	d.dispatch(ctx, "order.hook.completed", orderID, d.onCompleted)
}

// OnOrderRefunded fires the refund hooks and returns immediately.
func (d *HookDispatcher) OnOrderRefunded(ctx context.Context, orderID string) {
	d.dispatch(ctx, "order.hook.refunded", orderID, d.onRefunded)
}

func (d *HookDispatcher) dispatch(ctx context.Context, event, orderID string, hooks []HookFunc) {
	for _, hook := range hooks {
		hook := hook
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			// Detached from the request: the HTTP response must not wait on
			// hook execution, and a cancelled request must not abort it.
			hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					d.logger(hookCtx, event+".panic", map[string]any{
						"orderId": orderID,
						"panic":   r,
					})
				}
			}()
			if err := hook(hookCtx, orderID); err != nil {
				d.logger(hookCtx, event+".failed", map[string]any{
					"orderId": orderID,
					"error":   err.Error(),
				})
			}
		}()
	}
}

// Wait blocks until all in-flight hooks finish. Used by shutdown and tests.
func (d *HookDispatcher) Wait() {
	d.wg.Wait()
}
