package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/dshills/furnace/internal/monitor"
	"github.com/dshills/furnace/internal/project"
)

// DevServerName is the reserved task name StartDevServer registers.
const DevServerName = "dev-server"

// TaskStatus is a task snapshot enriched with sampled resource and
// port metadata when the task is running.
type TaskStatus struct {
	monitor.TaskInfo

	// CPUPercent is the process tree's combined CPU usage.
	CPUPercent float64

	// MemoryRSS is the process tree's combined resident memory in bytes.
	MemoryRSS uint64

	// Ports lists TCP ports the process tree is listening on.
	Ports []uint32
}

// RegisterProcess validates and registers a background task. The task
// is persisted but not started.
func (o *Orchestrator) RegisterProcess(ctx context.Context, name, command, dir string, policy monitor.RestartPolicy) (monitor.TaskInfo, error) {
	if o.shutting.Load() {
		return monitor.TaskInfo{}, shuttingDown()
	}
	if strings.TrimSpace(name) == "" {
		return monitor.TaskInfo{}, invalidArgument("task name is empty")
	}
	if strings.TrimSpace(command) == "" {
		return monitor.TaskInfo{}, invalidArgument("task command is empty")
	}
	if dir != "" {
		if err := validateDir(dir); err != nil {
			return monitor.TaskInfo{}, err
		}
	}

	task, err := o.monitor.Register(name, command, dir, policy)
	if err != nil {
		return monitor.TaskInfo{}, failf(err, "register task %q", name)
	}

	o.saveTask(ctx, task)
	return task.Info(), nil
}

// StartProcess starts a registered task.
func (o *Orchestrator) StartProcess(ctx context.Context, taskID string) error {
	if o.shutting.Load() {
		return shuttingDown()
	}

	unlock := o.locks.lock(taskID)
	defer unlock()

	if err := o.monitor.Start(taskID); err != nil {
		return failf(err, "start task %s", taskID)
	}
	o.touchTask(ctx, taskID)
	return nil
}

// StopProcess stops a running task, suppressing its restart policy.
// The task stays registered.
func (o *Orchestrator) StopProcess(ctx context.Context, taskID string) error {
	unlock := o.locks.lock(taskID)
	defer unlock()

	if err := o.monitor.Stop(taskID); err != nil {
		return failf(err, "stop task %s", taskID)
	}
	o.touchTask(ctx, taskID)
	return nil
}

// RemoveProcess stops a task if needed and deletes its registration
// and persisted definition.
func (o *Orchestrator) RemoveProcess(ctx context.Context, taskID string) error {
	unlock := o.locks.lock(taskID)
	defer unlock()

	task, err := o.monitor.Get(taskID)
	if err != nil {
		return failf(err, "remove task %s", taskID)
	}
	name := task.Name

	if err := o.monitor.Remove(taskID); err != nil {
		return failf(err, "remove task %s", taskID)
	}

	if o.store != nil {
		if err := o.store.DeleteTask(ctx, name); err != nil {
			o.logger.WithError(err).WithField("task", name).Error("failed to delete persisted task")
		}
	}
	return nil
}

// ListProcesses returns every registered task in registration order,
// enriched with resource metadata for running ones.
func (o *Orchestrator) ListProcesses() []TaskStatus {
	infos := o.monitor.List()
	out := make([]TaskStatus, 0, len(infos))
	for _, info := range infos {
		out = append(out, o.enrich(info))
	}
	return out
}

// ProcessStatus returns one task's enriched snapshot.
func (o *Orchestrator) ProcessStatus(taskID string) (TaskStatus, error) {
	task, err := o.monitor.Get(taskID)
	if err != nil {
		return TaskStatus{}, failf(err, "status of task %s", taskID)
	}
	return o.enrich(task.Info()), nil
}

// ProcessLogs returns up to limit of a task's most recent log lines.
func (o *Orchestrator) ProcessLogs(taskID string, limit int) ([]monitor.LogEntry, error) {
	entries, err := o.monitor.Logs(taskID, limit)
	if err != nil {
		return nil, failf(err, "logs of task %s", taskID)
	}
	return entries, nil
}

// StartDevServer detects the project in dir, registers its dev command
// under the dev-server name with an always-restart policy, and starts
// it.
func (o *Orchestrator) StartDevServer(ctx context.Context, dir string) (monitor.TaskInfo, error) {
	if o.shutting.Load() {
		return monitor.TaskInfo{}, shuttingDown()
	}
	if err := validateDir(dir); err != nil {
		return monitor.TaskInfo{}, err
	}

	command, err := project.DevCommand(dir)
	if err != nil {
		return monitor.TaskInfo{}, failf(err, "detect dev command in %s", dir)
	}

	task, err := o.monitor.Register(DevServerName, command, dir, monitor.PolicyAlways)
	if err != nil {
		return monitor.TaskInfo{}, failf(err, "register %s", DevServerName)
	}
	o.saveTask(ctx, task)

	unlock := o.locks.lock(task.ID)
	defer unlock()

	if err := o.monitor.Start(task.ID); err != nil {
		return monitor.TaskInfo{}, failf(err, "start %s", DevServerName)
	}
	o.touchTask(ctx, task.ID)
	return task.Info(), nil
}

// enrich samples resource usage for running tasks; sampling failures
// leave the metadata zeroed.
func (o *Orchestrator) enrich(info monitor.TaskInfo) TaskStatus {
	st := TaskStatus{TaskInfo: info}
	if info.State != monitor.TaskRunning {
		return st
	}
	usage, err := o.monitor.Usage(info.ID)
	if err != nil {
		return st
	}
	st.CPUPercent = usage.CPUPercent
	st.MemoryRSS = usage.MemoryRSS
	st.Ports = usage.Ports
	return st
}

// touchTask refreshes a task's persisted definition after a lifecycle
// change.
func (o *Orchestrator) touchTask(ctx context.Context, taskID string) {
	if o.store == nil {
		return
	}
	task, err := o.monitor.Get(taskID)
	if err != nil {
		return
	}
	o.saveTask(ctx, task)
}

// saveTask persists a task definition; failures are logged, not
// returned, so a store outage cannot fail a live operation.
func (o *Orchestrator) saveTask(ctx context.Context, task *monitor.Task) {
	if o.store == nil {
		return
	}
	info := task.Info()
	rec := taskRecord(task, info, time.Now())
	if err := o.store.SaveTask(ctx, rec); err != nil {
		o.logger.WithError(err).WithField("task", task.Name).Error("failed to persist task")
	}
}
