// Package process spawns and supervises child OS processes for the
// orchestration core.
//
// The supervisor is the only component that creates child processes;
// the terminal session manager and the background process monitor both
// spawn through it, so application shutdown can guarantee that no child
// outlives the supervisor.
//
// # Features
//
//   - Spawn with working directory and environment overrides
//   - Per-process group signaling (terminate, kill) reaching shell children
//   - Exit status tracking (code, terminating signal, failure reason)
//   - Ordered stdout/stderr streaming without interleaving corruption
//   - Graceful shutdown: SIGTERM, grace timeout, SIGKILL
//
// # Supervisor
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(context.Background(), 5*time.Second)
//
//	proc, err := sup.Spawn(process.Spec{
//	    Name:    "build",
//	    Command: "make",
//	    Args:    []string{"all"},
//	    Dir:     "/src/project",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	<-proc.Done()
//	fmt.Printf("exit: %d\n", proc.ExitStatus().Code)
//
// # Streams
//
// Forward reads a process pipe and delivers output in arrival order:
//
//	go process.Forward(proc.Stdout, process.Stdout, onChunk)
//	go process.Forward(proc.Stderr, process.Stderr, onChunk)
//
// Each pipe is consumed on its own goroutine; chunks within one stream
// are ordered, and a chunk is never split mid-line.
//
// # Thread Safety
//
// Supervisor and Process are safe for concurrent use.
package process
