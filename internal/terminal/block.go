package terminal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/furnace/internal/process"
)

// BlockStatus is the lifecycle state of a command block.
type BlockStatus int

const (
	// BlockRunning means the command has been issued and its marker has
	// not arrived yet.
	BlockRunning BlockStatus = iota
	// BlockCompleted means the command finished and reported an exit
	// code.
	BlockCompleted
	// BlockInterrupted means the shell died or the session closed
	// before the command reported back.
	BlockInterrupted
)

// String returns a human-readable status name.
func (s BlockStatus) String() string {
	switch s {
	case BlockRunning:
		return "running"
	case BlockCompleted:
		return "completed"
	case BlockInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// CommandBlock groups one issued command with the output it produced.
// Blocks are ordered by issue order within a session and become
// immutable once completed.
type CommandBlock struct {
	// ID is the unique block identifier.
	ID string

	// Seq is the 1-based issue position within the session.
	Seq int

	// Command is the command line as issued.
	Command string

	// Started is when the command was issued.
	Started time.Time

	mu        sync.RWMutex
	chunks    []process.Chunk
	exitCode  int
	status    BlockStatus
	completed time.Time

	done chan struct{}
}

func newBlock(seq int, command string) *CommandBlock {
	return &CommandBlock{
		ID:       uuid.NewString(),
		Seq:      seq,
		Command:  command,
		Started:  time.Now(),
		exitCode: -1,
		status:   BlockRunning,
		done:     make(chan struct{}),
	}
}

// Status returns the block's current status.
func (b *CommandBlock) Status() BlockStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// ExitCode returns the command's exit code, or -1 while running or
// interrupted.
func (b *CommandBlock) ExitCode() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.exitCode
}

// Completed returns when the block finished, zero while running.
func (b *CommandBlock) Completed() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.completed
}

// Chunks returns a copy of the output chunks received so far, in
// arrival order.
func (b *CommandBlock) Chunks() []process.Chunk {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]process.Chunk, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Output returns the block's combined output, stdout and stderr chunks
// concatenated in arrival order.
func (b *CommandBlock) Output() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var sb strings.Builder
	for _, c := range b.chunks {
		sb.WriteString(c.Text)
	}
	return sb.String()
}

// Done returns a channel closed when the block completes.
func (b *CommandBlock) Done() <-chan struct{} {
	return b.done
}

// appendChunk records an output chunk. Chunks arriving after completion
// are dropped; the block is immutable by then.
func (b *CommandBlock) appendChunk(c process.Chunk) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != BlockRunning {
		return
	}
	b.chunks = append(b.chunks, c)
}

// complete finalizes the block. Only the first call takes effect.
func (b *CommandBlock) complete(exitCode int, status BlockStatus) {
	b.mu.Lock()
	if b.status != BlockRunning {
		b.mu.Unlock()
		return
	}
	b.exitCode = exitCode
	b.status = status
	b.completed = time.Now()
	b.mu.Unlock()

	close(b.done)
}
