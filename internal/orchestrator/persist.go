package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/event/topic"
	"github.com/dshills/furnace/internal/monitor"
	"github.com/dshills/furnace/internal/store"
	"github.com/dshills/furnace/internal/terminal"
)

// Restore loads persisted state after a restart: prior sessions are
// marked closed (live shells are never resurrected; their history
// stays readable) and task definitions are re-registered with the
// monitor, stopped.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.store == nil {
		return nil
	}

	sessions, err := o.store.Sessions(ctx)
	if err != nil {
		return err
	}
	for _, rec := range sessions {
		if rec.State == "closed" {
			continue
		}
		if err := o.store.CloseSession(ctx, rec.ID, time.Now()); err != nil {
			o.logger.WithError(err).WithField("session", rec.ID).Warn("failed to close stale session row")
		}
	}

	tasks, err := o.store.Tasks(ctx)
	if err != nil {
		return err
	}
	for _, rec := range tasks {
		policy, err := monitor.ParsePolicy(rec.Policy)
		if err != nil {
			o.logger.WithField("task", rec.Name).WithError(err).Warn("skipping task with unknown policy")
			continue
		}

		opts := []monitor.TaskOption{monitor.WithTaskID(rec.ID)}
		if len(rec.Env) > 0 {
			opts = append(opts, monitor.WithTaskEnv(rec.Env))
		}
		if _, err := o.monitor.Register(rec.Name, rec.Command, rec.WorkingDir, policy, opts...); err != nil {
			if errors.Is(err, monitor.ErrDuplicateName) {
				continue
			}
			o.logger.WithField("task", rec.Name).WithError(err).Warn("failed to restore task")
			continue
		}
		o.logger.WithField("task", rec.Name).Info("task restored")
	}
	return nil
}

// startPersister subscribes to the lifecycle topics that require
// persistence updates outside a facade call: unexpected session exits,
// session closes, and task restarts.
func (o *Orchestrator) startPersister() {
	if o.store == nil || o.bus == nil {
		return
	}

	topics := []topic.Topic{
		events.TopicTerminalExited,
		events.TopicTerminalClosed,
		events.TopicProcessRestarted,
	}

	chans := make([]<-chan event.Event, 0, len(topics))
	for _, t := range topics {
		sub, err := o.bus.Subscribe(t)
		if err != nil {
			o.logger.WithError(err).Warn("persistence watcher disabled")
			for _, s := range o.subs {
				s.Close()
			}
			o.subs = nil
			return
		}
		o.subs = append(o.subs, sub)
		chans = append(chans, sub.Events())
	}

	o.wg.Add(1)
	go o.persistLoop(chans[0], chans[1], chans[2])
}

// persistLoop applies bus-driven persistence updates until every
// subscription has closed.
func (o *Orchestrator) persistLoop(exited, closed, restarted <-chan event.Event) {
	defer o.wg.Done()

	for exited != nil || closed != nil || restarted != nil {
		select {
		case ev, ok := <-exited:
			if !ok {
				exited = nil
				continue
			}
			if p, ok := ev.Payload.(events.TerminalExited); ok {
				o.finalizeSession(p.SessionID)
			}
		case ev, ok := <-closed:
			if !ok {
				closed = nil
				continue
			}
			if p, ok := ev.Payload.(events.TerminalClosed); ok {
				o.finalizeSession(p.SessionID)
			}
		case ev, ok := <-restarted:
			if !ok {
				restarted = nil
				continue
			}
			p, ok := ev.Payload.(events.ProcessRestarted)
			if !ok {
				continue
			}
			if err := o.store.UpdateTaskRestarts(context.Background(), p.Name, p.Restarts, time.Now()); err != nil {
				o.logger.WithError(err).WithField("task", p.Name).Error("failed to persist restart count")
			}
		}
	}
}

// finalizeSession flushes a session's remaining finished blocks and
// its closed state after the shell has gone away.
func (o *Orchestrator) finalizeSession(sessionID string) {
	unlock := o.locks.lock(sessionID)
	defer unlock()
	o.persistSessionActivity(context.Background(), sessionID)
}

// saveSession writes a session's row; failures are logged, not
// returned.
func (o *Orchestrator) saveSession(ctx context.Context, info terminal.SessionInfo) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveSession(ctx, sessionRecord(info)); err != nil {
		o.logger.WithError(err).WithField("session", info.ID).Error("failed to persist session")
	}
}

// persistSessionActivity appends any newly finished blocks to the
// session's history and refreshes its row. Callers hold the session's
// id lock.
func (o *Orchestrator) persistSessionActivity(ctx context.Context, sessionID string) {
	if o.store == nil {
		return
	}
	sess, err := o.terminal.Get(sessionID)
	if err != nil {
		return
	}

	o.histMu.Lock()
	defer o.histMu.Unlock()

	mark := o.persisted[sessionID]
	for _, b := range sess.Blocks() {
		if b.Seq <= mark {
			continue
		}
		if b.Status() == terminal.BlockRunning {
			break
		}
		if err := o.store.AppendCommand(ctx, commandRecord(sessionID, b)); err != nil {
			o.logger.WithError(err).WithField("block", b.ID).Error("failed to persist command block")
			break
		}
		mark = b.Seq
	}
	o.persisted[sessionID] = mark

	info := sess.Info()
	last := info.LastActivity
	if last.IsZero() {
		last = info.Created
	}
	if err := o.store.TouchSession(ctx, sessionID, info.State.String(), last); err != nil {
		o.logger.WithError(err).WithField("session", sessionID).Error("failed to persist session activity")
	}
}

func sessionRecord(info terminal.SessionInfo) store.SessionRecord {
	last := info.LastActivity
	if last.IsZero() {
		last = info.Created
	}
	return store.SessionRecord{
		ID:           info.ID,
		Name:         info.Name,
		WorkingDir:   info.Cwd,
		State:        info.State.String(),
		CreatedAt:    info.Created,
		LastActivity: last,
	}
}

func commandRecord(sessionID string, b *terminal.CommandBlock) store.CommandRecord {
	return store.CommandRecord{
		ID:          b.ID,
		SessionID:   sessionID,
		Seq:         b.Seq,
		Command:     b.Command,
		Output:      b.Output(),
		ExitCode:    b.ExitCode(),
		Status:      b.Status().String(),
		StartedAt:   b.Started,
		CompletedAt: b.Completed(),
	}
}

func taskRecord(task *monitor.Task, info monitor.TaskInfo, now time.Time) store.TaskRecord {
	return store.TaskRecord{
		Name:       task.Name,
		ID:         task.ID,
		Command:    task.Command,
		WorkingDir: task.Dir,
		Env:        task.Env,
		Policy:     task.Policy.String(),
		Restarts:   info.Restarts,
		CreatedAt:  task.Created,
		UpdatedAt:  now,
	}
}
