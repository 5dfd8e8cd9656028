package terminal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/process"
)

func TestParseMarker(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantPrefix string
		wantCode   int
		wantOK     bool
	}{
		{
			name:     "plain marker",
			text:     "\x1e0\x1e\n",
			wantCode: 0,
			wantOK:   true,
		},
		{
			name:     "nonzero code",
			text:     "\x1e127\x1e\n",
			wantCode: 127,
			wantOK:   true,
		},
		{
			name:       "output glued to marker",
			text:       "hi\x1e3\x1e\n",
			wantPrefix: "hi",
			wantCode:   3,
			wantOK:     true,
		},
		{
			name:     "no trailing newline",
			text:     "\x1e5\x1e",
			wantCode: 5,
			wantOK:   true,
		},
		{
			name:   "ordinary output",
			text:   "hello\n",
			wantOK: false,
		},
		{
			name:   "non-numeric status",
			text:   "\x1eabc\x1e\n",
			wantOK: false,
		},
		{
			name:   "unterminated",
			text:   "\x1e12\n",
			wantOK: false,
		},
		{
			name:   "trailing garbage",
			text:   "\x1e5\x1etrailing\n",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, code, ok := parseMarker(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("parseMarker(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if prefix != tt.wantPrefix {
				t.Errorf("prefix = %q, want %q", prefix, tt.wantPrefix)
			}
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

// newTestSession builds a session on a real /bin/sh with a live bus.
func newTestSession(t *testing.T) (*Session, *event.Bus) {
	t.Helper()

	sup := process.NewSupervisor()
	bus := event.NewBus()
	m := NewManager(ManagerConfig{
		Shell:      "/bin/sh",
		CloseGrace: time.Second,
		Supervisor: sup,
		Publisher:  bus.Source("terminal"),
	})

	s, err := m.Create("test", t.TempDir())
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	t.Cleanup(func() {
		m.Shutdown()
		_ = sup.Shutdown(context.Background(), 2*time.Second)
		bus.Close()
	})
	return s, bus
}

func TestSession_ExecuteEcho(t *testing.T) {
	s, _ := newTestSession(t)

	block, err := s.Execute(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if block.Status() != BlockCompleted {
		t.Errorf("expected BlockCompleted, got %v", block.Status())
	}
	if block.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", block.ExitCode())
	}
	if got := block.Output(); got != "hi\n" {
		t.Errorf("expected output %q, got %q", "hi\n", got)
	}
	if s.State() != SessionActive {
		t.Errorf("expected SessionActive after command, got %v", s.State())
	}
}

func TestSession_ExitCode(t *testing.T) {
	s, _ := newTestSession(t)

	tests := []struct {
		command  string
		wantCode int
	}{
		{"true", 0},
		{"false", 1},
		{"(exit 42)", 42},
	}

	for _, tt := range tests {
		block, err := s.Execute(context.Background(), tt.command)
		if err != nil {
			t.Fatalf("Execute(%q) failed: %v", tt.command, err)
		}
		if block.ExitCode() != tt.wantCode {
			t.Errorf("Execute(%q) exit code = %d, want %d", tt.command, block.ExitCode(), tt.wantCode)
		}
	}
}

func TestSession_BlocksOrdered(t *testing.T) {
	s, _ := newTestSession(t)

	commands := []string{"echo one", "echo two", "echo three"}
	for _, cmd := range commands {
		if _, err := s.Execute(context.Background(), cmd); err != nil {
			t.Fatalf("Execute(%q) failed: %v", cmd, err)
		}
	}

	blocks := s.Blocks()
	if len(blocks) != len(commands) {
		t.Fatalf("expected %d blocks, got %d", len(commands), len(blocks))
	}

	wantOut := []string{"one\n", "two\n", "three\n"}
	for i, b := range blocks {
		if b.Seq != i+1 {
			t.Errorf("block %d: expected seq %d, got %d", i, i+1, b.Seq)
		}
		if b.Command != commands[i] {
			t.Errorf("block %d: expected command %q, got %q", i, commands[i], b.Command)
		}
		if b.Output() != wantOut[i] {
			t.Errorf("block %d: expected output %q, got %q", i, wantOut[i], b.Output())
		}
	}
}

func TestSession_StderrCaptured(t *testing.T) {
	s, _ := newTestSession(t)

	block, err := s.Execute(context.Background(), "echo oops >&2")
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if got := block.Output(); got != "oops\n" {
		t.Errorf("expected output %q, got %q", "oops\n", got)
	}

	chunks := block.Chunks()
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Stream != process.Stderr {
		t.Errorf("expected stderr chunk, got %v", chunks[0].Stream)
	}
}

func TestSession_MultilineOutput(t *testing.T) {
	s, _ := newTestSession(t)

	block, err := s.Execute(context.Background(), `printf 'a\nb\n'`)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if got := block.Output(); got != "a\nb\n" {
		t.Errorf("expected output %q, got %q", "a\nb\n", got)
	}
	if len(block.Chunks()) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(block.Chunks()))
	}
}

func TestSession_OutputWithoutTrailingNewline(t *testing.T) {
	s, _ := newTestSession(t)

	// The marker line glues onto the unterminated output; the session
	// must split them apart.
	block, err := s.Execute(context.Background(), "printf hi")
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if got := block.Output(); got != "hi" {
		t.Errorf("expected output %q, got %q", "hi", got)
	}
	if block.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", block.ExitCode())
	}
}

func TestSession_BusyDuringCommand(t *testing.T) {
	s, _ := newTestSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// Returns on ctx expiry with the command still running
	block, err := s.Execute(ctx, "sleep 5")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if block.Status() != BlockRunning {
		t.Errorf("expected BlockRunning, got %v", block.Status())
	}
	if s.State() != SessionBusy {
		t.Errorf("expected SessionBusy, got %v", s.State())
	}

	_, err = s.Execute(context.Background(), "echo queued")
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("expected ErrSessionBusy, got %v", err)
	}
}

func TestSession_UnexpectedExit(t *testing.T) {
	s, bus := newTestSession(t)

	sub, err := bus.Subscribe(events.TopicTerminalExited)
	if err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}
	defer sub.Close()

	block, err := s.Execute(context.Background(), "exit 7")
	if !errors.Is(err, ErrShellExited) {
		t.Fatalf("expected ErrShellExited, got %v", err)
	}
	if block.Status() != BlockInterrupted {
		t.Errorf("expected BlockInterrupted, got %v", block.Status())
	}
	if s.State() != SessionClosed {
		t.Errorf("expected SessionClosed, got %v", s.State())
	}

	select {
	case ev := <-sub.Events():
		payload, ok := ev.Payload.(events.TerminalExited)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if payload.SessionID != s.ID {
			t.Errorf("expected session %s, got %s", s.ID, payload.SessionID)
		}
		if payload.ExitCode != 7 {
			t.Errorf("expected exit code 7, got %d", payload.ExitCode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("terminal.exited event not published")
	}

	_, err = s.Execute(context.Background(), "echo hi")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_Info(t *testing.T) {
	s, _ := newTestSession(t)

	if _, err := s.Execute(context.Background(), "echo hi"); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	info := s.Info()
	if info.ID != s.ID {
		t.Errorf("expected ID %s, got %s", s.ID, info.ID)
	}
	if info.Shell != "/bin/sh" {
		t.Errorf("expected shell /bin/sh, got %s", info.Shell)
	}
	if info.State != SessionActive {
		t.Errorf("expected SessionActive, got %v", info.State)
	}
	if info.PID <= 0 {
		t.Errorf("expected positive PID, got %d", info.PID)
	}
	if info.Blocks != 1 {
		t.Errorf("expected 1 block, got %d", info.Blocks)
	}
	if info.LastActivity.IsZero() {
		t.Error("expected LastActivity to be set")
	}
}

func TestBlock_ImmutableAfterComplete(t *testing.T) {
	b := newBlock(1, "echo hi")

	b.appendChunk(process.Chunk{Text: "hi\n", Stream: process.Stdout})
	b.complete(0, BlockCompleted)

	// Late chunks and repeat completions are ignored
	b.appendChunk(process.Chunk{Text: "late\n", Stream: process.Stdout})
	b.complete(9, BlockInterrupted)

	if got := b.Output(); got != "hi\n" {
		t.Errorf("expected output %q, got %q", "hi\n", got)
	}
	if b.ExitCode() != 0 {
		t.Errorf("expected exit code 0, got %d", b.ExitCode())
	}
	if b.Status() != BlockCompleted {
		t.Errorf("expected BlockCompleted, got %v", b.Status())
	}
}

func TestBlockStatus_String(t *testing.T) {
	tests := []struct {
		status BlockStatus
		want   string
	}{
		{BlockRunning, "running"},
		{BlockCompleted, "completed"},
		{BlockInterrupted, "interrupted"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("BlockStatus.String() = %q, want %q", got, tt.want)
		}
	}
}
