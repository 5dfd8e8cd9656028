// Package monitor keeps long-running background processes alive.
//
// Tasks are registered by unique name with a command, working
// directory, and restart policy, then started and stopped explicitly.
// A watch loop per running task observes exits and applies the policy:
//
//   - Never: the task stays stopped after any exit
//   - OnFailure: nonzero exits restart with exponential backoff
//   - Always: every exit restarts; clean exits restart immediately
//
// Consecutive failures are counted; at the cap the task moves to
// Failed and stays down until started manually. A requested Stop never
// counts as a failure and never restarts.
//
// # Log aggregation
//
// Every output line lands in a bounded per-task ring buffer (oldest
// evicted) tagged info for stdout and error for stderr, and is
// published as a process.log event.
//
// # Usage
//
//	mon := monitor.New(monitor.Config{
//	    Supervisor: sup,
//	    Publisher:  bus.Source("monitor"),
//	})
//
//	task, err := mon.Register("dev-server", "npm run dev", "/src/app", monitor.PolicyAlways)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mon.Start(task.ID); err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, entry := range task.Logs(50) {
//	    fmt.Printf("[%s] %s\n", entry.Level, entry.Line)
//	}
//
// # Execution States
//
// Tasks transition through states:
//
//   - Stopped: no process attached
//   - Running: process alive
//   - Restarting: waiting out a restart backoff
//   - Failed: consecutive-failure cap reached, no further retries
//
// # Thread Safety
//
// Monitor and Task are safe for concurrent use.
package monitor
