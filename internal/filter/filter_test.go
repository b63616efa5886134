package filter

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

const testWindow = 40 * time.Millisecond

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(testWindow, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Close)
	return m
}

func receive(t *testing.T, ch <-chan State) State {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(time.Second):
		t.Fatal("no settled state delivered")
	}
	return State{}
}

func expectNone(t *testing.T, ch <-chan State, wait time.Duration) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected settlement: %+v", s)
	case <-time.After(wait):
	}
}

func TestManager_DefaultsUseAllSentinel(t *testing.T) {
	m := newTestManager(t)
	cur := m.Current()
	if cur.School != All || cur.Period != All {
		t.Fatalf("defaults = %+v", cur)
	}

	m.SetSchool("SJP")
	m.SetSchool("")
	m.SetPeriod("   ")
	cur = m.Current()
	if cur.School != All || cur.Period != All {
		t.Fatalf("empty setters should fall back to %q: %+v", All, cur)
	}
}

func TestManager_CurrentIsImmediate(t *testing.T) {
	m := newTestManager(t)
	m.SetSearch("jea")
	if got := m.Current().Search; got != "jea" {
		t.Fatalf("Current().Search = %q", got)
	}
	if got := m.Settled().Search; got != "" {
		t.Fatalf("Settled() moved before the window: %q", got)
	}
}

func TestManager_RapidChangesSettleOnceWithLastValues(t *testing.T) {
	m := newTestManager(t)

	m.SetSearch("j")
	time.Sleep(5 * time.Millisecond)
	m.SetSchool("SJP")
	time.Sleep(5 * time.Millisecond)
	m.SetSearch("jean")

	got := receive(t, m.Changes())
	want := State{Search: "jean", School: "SJP", Period: All}
	if got != want {
		t.Fatalf("settled = %+v, want %+v", got, want)
	}
	expectNone(t, m.Changes(), 3*testWindow)
	if m.Settled() != want {
		t.Fatalf("Settled() = %+v", m.Settled())
	}
}

func TestManager_SameValueTwiceSettlesOnce(t *testing.T) {
	m := newTestManager(t)

	m.SetSearch("dupont")
	m.SetSearch("dupont")
	receive(t, m.Changes())
	expectNone(t, m.Changes(), 3*testWindow)

	// after settlement, repeating the value is a no-op
	m.SetSearch("dupont")
	expectNone(t, m.Changes(), 3*testWindow)
}

func TestManager_RevertWithinWindowDoesNotSettle(t *testing.T) {
	m := newTestManager(t)

	m.SetStatus("approved")
	m.SetStatus("")
	expectNone(t, m.Changes(), 3*testWindow)
}

func TestManager_CloseStopsDelivery(t *testing.T) {
	m := NewManager(testWindow, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.SetSearch("x")
	m.Close()
	m.Close()

	if _, ok := <-m.Changes(); ok {
		t.Fatal("expected closed channel")
	}
	m.SetSearch("y")
	if m.Current().Search != "x" {
		t.Fatal("setters must be ignored after Close")
	}
}
