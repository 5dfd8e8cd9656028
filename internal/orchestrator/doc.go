// Package orchestrator is the command surface over the terminal
// manager, the background process monitor, and the event bus.
//
// Every operation validates its inputs before delegating, serializes
// mutations that target the same session or task id (unrelated ids
// proceed in parallel), and reports failures as *Error values carrying
// a stable code:
//
//	info, err := orch.CreateSession(ctx, "build", "/src/app")
//	if orchestrator.CodeOf(err) == orchestrator.CodeInvalidArgument {
//	    // bad working directory
//	}
//
// The orchestrator also owns durable state. Session rows, finished
// command blocks, and task definitions are written to the store on the
// operations that change them, and a background watcher picks up the
// changes that happen outside a facade call: a shell dying on its own,
// a session close completing, a restart policy relaunching a task.
// Restore loads that state back after a restart; prior sessions come
// back closed with their history readable, tasks come back registered
// but stopped.
//
// Process failures are not errors here: a crashing task or a dying
// shell surfaces as terminal.exited / process.failed events on the
// bus, and callers observe state rather than unwinding. The error
// taxonomy covers only the request/response path.
package orchestrator
