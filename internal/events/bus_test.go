package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func TestBusEmitDeliversToSubscriber(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	var got *Event
	bus.Subscribe(DayAdvanced, func(e *Event) {
		mu.Lock()
		defer mu.Unlock()
		got = e
	})

	bus.Emit(DayAdvanced, "scheduler", map[string]interface{}{"date": "20240102"})

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("expected subscriber to receive event")
	}
	if got.Type != DayAdvanced {
		t.Errorf("type = %q, want %q", got.Type, DayAdvanced)
	}
	if got.Module != "scheduler" {
		t.Errorf("module = %q, want scheduler", got.Module)
	}
}

func TestBusEmitIgnoresUnsubscribed(t *testing.T) {
	bus := NewBus()
	var calls int
	unsubscribe := bus.Subscribe(TradeExecuted, func(e *Event) { calls++ })
	unsubscribe()

	bus.Emit(TradeExecuted, "portfolio", nil)

	if calls != 0 {
		t.Errorf("calls = %d, want 0 after unsubscribe", calls)
	}
}

func TestManagerEmitError(t *testing.T) {
	bus := NewBus()
	var got *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { got = e })

	mgr := NewManager(bus, zerolog.Nop())
	mgr.EmitError("llm", errTimeout, map[string]interface{}{"op": "invoke"})

	if got == nil {
		t.Fatal("expected ErrorOccurred event")
	}
	if got.Data["error"] != errTimeout.Error() {
		t.Errorf("data[error] = %v, want %v", got.Data["error"], errTimeout.Error())
	}
	if got.Data["op"] != "invoke" {
		t.Errorf("data[op] = %v, want invoke", got.Data["op"])
	}
}

var errTimeout = timeoutErr{}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timed out after 10s" }
