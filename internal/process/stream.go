package process

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// StreamID identifies which standard stream a chunk came from.
type StreamID int

const (
	// Stdout is the standard output stream.
	Stdout StreamID = iota
	// Stderr is the standard error stream.
	Stderr
)

// String returns the stream name.
func (s StreamID) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Chunk is one piece of process output. Text keeps its trailing newline
// when the process wrote one, so concatenating a stream's chunks
// reproduces the raw output byte for byte.
type Chunk struct {
	// Text is the chunk content, newline included when present.
	Text string

	// Stream identifies stdout or stderr.
	Stream StreamID

	// Timestamp is when the chunk was read.
	Timestamp time.Time
}

// Line returns the chunk text without trailing line endings.
func (c Chunk) Line() string {
	return strings.TrimRight(c.Text, "\r\n")
}

// Forward reads r until EOF and hands each newline-delimited chunk to
// fn in order. The final chunk may lack a newline when the stream ends
// mid-line. Pipe closure counts as a normal end of stream.
func Forward(r io.Reader, id StreamID, fn func(Chunk)) error {
	br := bufio.NewReader(r)
	for {
		text, err := br.ReadString('\n')
		if text != "" {
			fn(Chunk{Text: text, Stream: id, Timestamp: time.Now()})
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
