package terminal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/process"
)

func newTestManager(t *testing.T) (*Manager, *event.Bus) {
	t.Helper()

	sup := process.NewSupervisor()
	bus := event.NewBus()
	m := NewManager(ManagerConfig{
		Shell:      "/bin/sh",
		CloseGrace: time.Second,
		Supervisor: sup,
		Publisher:  bus.Source("terminal"),
	})

	t.Cleanup(func() {
		m.Shutdown()
		_ = sup.Shutdown(context.Background(), 2*time.Second)
		bus.Close()
	})
	return m, bus
}

func TestManager_Create(t *testing.T) {
	m, bus := newTestManager(t)

	sub, err := bus.Subscribe(events.TopicTerminalCreated)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Close()

	s, err := m.Create("main", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if s.State() != SessionActive {
		t.Errorf("expected SessionActive, got %v", s.State())
	}
	if s.PID() <= 0 {
		t.Errorf("expected positive PID, got %d", s.PID())
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 session, got %d", m.Count())
	}

	// First session becomes active
	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active() failed: %v", err)
	}
	if active.ID != s.ID {
		t.Errorf("expected active session %s, got %s", s.ID, active.ID)
	}

	select {
	case ev := <-sub.Events():
		payload, ok := ev.Payload.(events.TerminalCreated)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.SessionID != s.ID || payload.Name != "main" {
			t.Errorf("unexpected payload %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal.created event not published")
	}
}

func TestManager_CreateDefaultName(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if s.Name != "session-1" {
		t.Errorf("expected name 'session-1', got %q", s.Name)
	}
}

func TestManager_ShellNotFound(t *testing.T) {
	sup := process.NewSupervisor()
	m := NewManager(ManagerConfig{
		Shell:      "/nonexistent/shell",
		Supervisor: sup,
	})

	_, err := m.Create("main", t.TempDir())
	if !errors.Is(err, ErrShellNotFound) {
		t.Errorf("expected ErrShellNotFound, got %v", err)
	}
}

func TestManager_CreateMissingDir(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Create("main", "/nonexistent/dir")
	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Errorf("expected SpawnError, got %v", err)
	}
}

func TestManager_GetNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get("no-such-id")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	_, err = m.Execute(context.Background(), "no-such-id", "echo hi")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

// Running `echo hi` yields exactly one completed block whose output is
// "hi\n", and the terminal.output chunks published for the block
// concatenate to that same output.
func TestManager_EchoOutputMatchesEvents(t *testing.T) {
	m, bus := newTestManager(t)

	s, err := m.Create("main", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	sub, err := bus.Subscribe(events.TopicTerminalOutput)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Close()

	block, err := m.Execute(context.Background(), s.ID, "echo hi")
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if len(s.Blocks()) != 1 {
		t.Fatalf("expected 1 block, got %d", len(s.Blocks()))
	}
	if block.Status() != BlockCompleted {
		t.Errorf("expected BlockCompleted, got %v", block.Status())
	}
	if block.Output() != "hi\n" {
		t.Errorf("expected block output %q, got %q", "hi\n", block.Output())
	}

	var streamed strings.Builder
	for streamed.String() != block.Output() {
		select {
		case ev := <-sub.Events():
			payload, ok := ev.Payload.(events.TerminalOutput)
			if !ok {
				t.Fatalf("unexpected payload type %T", ev.Payload)
			}
			if payload.SessionID != s.ID || payload.BlockID != block.ID {
				t.Errorf("unexpected payload %+v", payload)
			}
			if payload.IsStderr {
				t.Error("expected stdout chunk")
			}
			streamed.WriteString(payload.Chunk)
		case <-time.After(2 * time.Second):
			t.Fatalf("streamed %q, want %q", streamed.String(), block.Output())
		}
	}
}

func TestManager_SwitchActive(t *testing.T) {
	m, _ := newTestManager(t)

	s1, err := m.Create("one", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s2, err := m.Create("two", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	active, err := m.Active()
	if err != nil {
		t.Fatalf("Active() failed: %v", err)
	}
	if active.ID != s1.ID {
		t.Errorf("expected first session active, got %s", active.ID)
	}

	if err := m.SwitchActive(s2.ID); err != nil {
		t.Fatalf("SwitchActive() failed: %v", err)
	}
	active, err = m.Active()
	if err != nil {
		t.Fatalf("Active() failed: %v", err)
	}
	if active.ID != s2.ID {
		t.Errorf("expected second session active, got %s", active.ID)
	}

	if err := m.SwitchActive("no-such-id"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	if err := m.Close(s2.ID); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := m.SwitchActive(s2.ID); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestManager_List(t *testing.T) {
	m, _ := newTestManager(t)

	s1, err := m.Create("one", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s2, err := m.Create("two", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	infos := m.List()
	if len(infos) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(infos))
	}
	if infos[0].ID != s1.ID || infos[1].ID != s2.ID {
		t.Error("expected sessions in creation order")
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m, bus := newTestManager(t)

	sub, err := bus.Subscribe(events.TopicTerminalClosed)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Close()

	s, err := m.Create("main", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, err := s.Execute(context.Background(), "echo hi"); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := m.Close(s.ID); err != nil {
		t.Fatalf("second Close() failed: %v", err)
	}

	if s.State() != SessionClosed {
		t.Errorf("expected SessionClosed, got %v", s.State())
	}

	// Closed sessions stay listed with their blocks readable
	if m.Count() != 1 {
		t.Errorf("expected closed session to stay listed, count %d", m.Count())
	}
	if len(s.Blocks()) != 1 {
		t.Errorf("expected 1 block after close, got %d", len(s.Blocks()))
	}

	select {
	case ev := <-sub.Events():
		payload, ok := ev.Payload.(events.TerminalClosed)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.SessionID != s.ID {
			t.Errorf("expected session %s, got %s", s.ID, payload.SessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal.closed event not published")
	}

	_, err = s.Execute(context.Background(), "echo hi")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestManager_CloseKillsShell(t *testing.T) {
	sup := process.NewSupervisor()
	bus := event.NewBus()
	m := NewManager(ManagerConfig{
		Shell:      "/bin/sh",
		CloseGrace: time.Second,
		Supervisor: sup,
		Publisher:  bus.Source("terminal"),
	})
	t.Cleanup(func() {
		m.Shutdown()
		_ = sup.Shutdown(context.Background(), 2*time.Second)
		bus.Close()
	})

	s, err := m.Create("main", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if sup.Count() != 1 {
		t.Fatalf("expected 1 tracked shell, got %d", sup.Count())
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if s.State() != SessionClosed {
		t.Errorf("expected SessionClosed, got %v", s.State())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.Count() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("shell still tracked after close, count %d", sup.Count())
}

func TestManager_CloseClearsActive(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("main", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := m.Active(); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected no active session, got %v", err)
	}
}

func TestManager_Shutdown(t *testing.T) {
	m, _ := newTestManager(t)

	s1, err := m.Create("one", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	s2, err := m.Create("two", t.TempDir())
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	m.Shutdown()

	if s1.State() != SessionClosed || s2.State() != SessionClosed {
		t.Error("expected all sessions closed after shutdown")
	}

	_, err = m.Create("three", t.TempDir())
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
}
