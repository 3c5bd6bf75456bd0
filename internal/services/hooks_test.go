package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestHookDispatcherRunsHooks(t *testing.T) {
	var mu sync.Mutex
	var completed, refunded []string

	dispatcher := NewHookDispatcher(HookDispatcherDeps{
		OnCompleted: []HookFunc{func(_ context.Context, orderID string) error {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, orderID)
			return nil
		}},
		OnRefunded: []HookFunc{func(_ context.Context, orderID string) error {
			mu.Lock()
			defer mu.Unlock()
			refunded = append(refunded, orderID)
			return nil
		}},
	})

	dispatcher.OnOrderCompleted(context.Background(), "ord_1")
	dispatcher.OnOrderRefunded(context.Background(), "ord_2")
	dispatcher.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(completed) != 1 || completed[0] != "ord_1" {
		t.Fatalf("unexpected completed hooks %v", completed)
	}
	if len(refunded) != 1 || refunded[0] != "ord_2" {
		t.Fatalf("unexpected refunded hooks %v", refunded)
	}
}

func TestHookDispatcherSurvivesFailureAndPanic(t *testing.T) {
	var mu sync.Mutex
	events := map[string]int{}
	logger := func(_ context.Context, event string, _ map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		events[event]++
	}

	ran := make(chan struct{}, 1)
	dispatcher := NewHookDispatcher(HookDispatcherDeps{
		OnCompleted: []HookFunc{
			func(context.Context, string) error { panic("boom") },
			func(context.Context, string) error { return errors.New("downstream down") },
			func(context.Context, string) error {
				ran <- struct{}{}
				return nil
			},
		},
		Logger: logger,
	})

	dispatcher.OnOrderCompleted(context.Background(), "ord_1")
	dispatcher.Wait()

	select {
	case <-ran:
	default:
		t.Fatal("healthy hook must still run")
	}
	mu.Lock()
	defer mu.Unlock()
	if events["order.hook.completed.panic"] != 1 {
		t.Fatalf("panic not logged: %v", events)
	}
	if events["order.hook.completed.failed"] != 1 {
		t.Fatalf("failure not logged: %v", events)
	}
}

func TestHookDispatcherDetachesFromRequestContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sawLiveCtx := make(chan bool, 1)
	dispatcher := NewHookDispatcher(HookDispatcherDeps{
		OnCompleted: []HookFunc{func(hookCtx context.Context, _ string) error {
			sawLiveCtx <- hookCtx.Err() == nil
			return nil
		}},
		Timeout: time.Second,
	})

	dispatcher.OnOrderCompleted(ctx, "ord_1")
	dispatcher.Wait()

	if live := <-sawLiveCtx; !live {
		t.Fatal("hook context must outlive the cancelled request context")
	}
}
