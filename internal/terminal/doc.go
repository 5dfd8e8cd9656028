// Package terminal manages interactive-style shell sessions whose
// output is grouped into command blocks.
//
// Each session binds one long-lived, non-interactive shell. Commands
// are written to the shell's stdin followed by a status-marker line, so
// the session knows exactly when a command finished and with which exit
// code, without a PTY. Output streams into the current block and onto
// the event bus as it arrives.
//
// # Architecture
//
// The package is organized around these core types:
//
//   - Manager: creates, looks up, and closes sessions
//   - Session: one shell plus its ordered command blocks
//   - CommandBlock: one command with its output and exit code
//
// # Usage
//
// Create a manager and run commands in a session:
//
//	manager := terminal.NewManager(terminal.ManagerConfig{
//	    Supervisor: sup,
//	    Publisher:  bus.Source("terminal"),
//	})
//
//	sess, err := manager.Create("main", "/src/project")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	block, err := sess.Execute(ctx, "go test ./...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("exit %d\n%s", block.ExitCode(), block.Output())
//
// # Sessions and blocks
//
// A session runs one command at a time: Execute while a command is in
// flight returns ErrSessionBusy. Blocks are ordered by issue order and
// immutable once completed. When the shell exits on its own the session
// transitions to Closed, the in-flight block is marked interrupted, and
// a terminal.exited event is published.
//
// # Thread Safety
//
// Manager, Session, and CommandBlock are safe for concurrent use.
package terminal
