package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "furnace.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestStore_SaveAndListSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	first := SessionRecord{
		ID:           "sess-1",
		Name:         "build",
		WorkingDir:   "/tmp/proj",
		State:        "active",
		CreatedAt:    base,
		LastActivity: base,
	}
	second := SessionRecord{
		ID:           "sess-2",
		Name:         "scratch",
		State:        "active",
		CreatedAt:    base.Add(time.Second),
		LastActivity: base.Add(time.Second),
	}

	if err := s.SaveSession(ctx, first); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	if err := s.SaveSession(ctx, second); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "sess-1" || sessions[1].ID != "sess-2" {
		t.Error("expected sessions in creation order")
	}

	got := sessions[0]
	if got.Name != first.Name || got.WorkingDir != first.WorkingDir || got.State != first.State {
		t.Errorf("unexpected session %+v", got)
	}
	if !got.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed: %v vs %v", got.CreatedAt, first.CreatedAt)
	}
	if sessions[1].WorkingDir != "" {
		t.Errorf("expected empty working dir, got %q", sessions[1].WorkingDir)
	}
}

func TestStore_SaveSessionUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Now().UTC()
	rec := SessionRecord{ID: "sess-1", Name: "one", State: "active", CreatedAt: created, LastActivity: created}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	rec.State = "busy"
	rec.LastActivity = created.Add(time.Minute)
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() update failed: %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session after upsert, got %d", len(sessions))
	}
	if sessions[0].State != "busy" {
		t.Errorf("expected busy state, got %q", sessions[0].State)
	}
	if !sessions[0].CreatedAt.Equal(created) {
		t.Error("upsert should not change created_at")
	}
	if !sessions[0].LastActivity.Equal(created.Add(time.Minute)) {
		t.Error("upsert should update last_activity")
	}
}

func TestStore_TouchAndCloseSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := SessionRecord{ID: "sess-1", Name: "one", State: "active", CreatedAt: now, LastActivity: now}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	later := now.Add(30 * time.Second)
	if err := s.TouchSession(ctx, "sess-1", "busy", later); err != nil {
		t.Fatalf("TouchSession() failed: %v", err)
	}

	sessions, _ := s.Sessions(ctx)
	if sessions[0].State != "busy" || !sessions[0].LastActivity.Equal(later) {
		t.Errorf("touch not applied: %+v", sessions[0])
	}

	end := later.Add(time.Second)
	if err := s.CloseSession(ctx, "sess-1", end); err != nil {
		t.Fatalf("CloseSession() failed: %v", err)
	}

	sessions, _ = s.Sessions(ctx)
	if sessions[0].State != "closed" {
		t.Errorf("expected closed state, got %q", sessions[0].State)
	}
}

func TestStore_CommandHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.SaveSession(ctx, SessionRecord{
		ID: "sess-1", Name: "one", State: "active", CreatedAt: now, LastActivity: now,
	}); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}

	// Insert out of order; history must come back by seq
	records := []CommandRecord{
		{ID: "cmd-2", SessionID: "sess-1", Seq: 2, Command: "pwd", Output: "/tmp\n", ExitCode: 0, Status: "completed", StartedAt: now.Add(time.Second), CompletedAt: now.Add(2 * time.Second)},
		{ID: "cmd-1", SessionID: "sess-1", Seq: 1, Command: "echo hi", Output: "hi\n", ExitCode: 0, Status: "completed", StartedAt: now, CompletedAt: now.Add(time.Second)},
		{ID: "cmd-3", SessionID: "sess-1", Seq: 3, Command: "sleep 100", Output: "", ExitCode: -1, Status: "interrupted", StartedAt: now.Add(3 * time.Second)},
	}
	for _, rec := range records {
		if err := s.AppendCommand(ctx, rec); err != nil {
			t.Fatalf("AppendCommand(%s) failed: %v", rec.ID, err)
		}
	}

	history, err := s.SessionHistory(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionHistory() failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(history))
	}
	for i, want := range []string{"echo hi", "pwd", "sleep 100"} {
		if history[i].Command != want {
			t.Errorf("position %d: expected %q, got %q", i, want, history[i].Command)
		}
		if history[i].Seq != i+1 {
			t.Errorf("position %d: expected seq %d, got %d", i, i+1, history[i].Seq)
		}
	}
	if history[0].Output != "hi\n" || history[0].ExitCode != 0 {
		t.Errorf("unexpected first command %+v", history[0])
	}

	// Interrupted command has no completion time
	if !history[2].CompletedAt.IsZero() {
		t.Errorf("expected zero completed_at, got %v", history[2].CompletedAt)
	}
	if history[2].Status != "interrupted" || history[2].ExitCode != -1 {
		t.Errorf("unexpected interrupted command %+v", history[2])
	}

	other, err := s.SessionHistory(ctx, "sess-unknown")
	if err != nil {
		t.Fatalf("SessionHistory() failed: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected empty history, got %d entries", len(other))
	}
}

func TestStore_TaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rec := TaskRecord{
		Name:       "dev-server",
		ID:         "task-1",
		Command:    "npm run dev",
		WorkingDir: "/tmp/app",
		Env:        map[string]string{"PORT": "3000", "NODE_ENV": "development"},
		Policy:     "always",
		Restarts:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.SaveTask(ctx, rec); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}

	got, found, err := s.Task(ctx, "dev-server")
	if err != nil {
		t.Fatalf("Task() failed: %v", err)
	}
	if !found {
		t.Fatal("expected task to be found")
	}
	if got.ID != rec.ID || got.Command != rec.Command || got.Policy != rec.Policy {
		t.Errorf("unexpected task %+v", got)
	}
	if len(got.Env) != 2 || got.Env["PORT"] != "3000" {
		t.Errorf("env did not round trip: %v", got.Env)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at changed: %v vs %v", got.CreatedAt, now)
	}

	if _, found, err := s.Task(ctx, "missing"); err != nil || found {
		t.Errorf("Task(missing) = found=%v, err=%v", found, err)
	}

	if err := s.DeleteTask(ctx, "dev-server"); err != nil {
		t.Fatalf("DeleteTask() failed: %v", err)
	}
	if _, found, _ := s.Task(ctx, "dev-server"); found {
		t.Error("expected task gone after delete")
	}
}

func TestStore_TaskUpsertAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.SaveTask(ctx, TaskRecord{
		Name: "worker", ID: "t1", Command: "run worker", Policy: "on-failure",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}
	if err := s.SaveTask(ctx, TaskRecord{
		Name: "web", ID: "t2", Command: "run web", Policy: "always",
		CreatedAt: now.Add(time.Second), UpdatedAt: now.Add(time.Second),
	}); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}

	// Same name updates in place
	if err := s.SaveTask(ctx, TaskRecord{
		Name: "worker", ID: "t1", Command: "run worker --fast", Policy: "never",
		CreatedAt: now, UpdatedAt: now.Add(time.Minute),
	}); err != nil {
		t.Fatalf("SaveTask() update failed: %v", err)
	}

	tasks, err := s.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Name != "worker" || tasks[1].Name != "web" {
		t.Error("expected tasks in creation order")
	}
	if tasks[0].Command != "run worker --fast" || tasks[0].Policy != "never" {
		t.Errorf("upsert not applied: %+v", tasks[0])
	}
	if tasks[0].Env != nil {
		t.Errorf("expected nil env, got %v", tasks[0].Env)
	}
}

func TestStore_UpdateTaskRestarts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.SaveTask(ctx, TaskRecord{
		Name: "worker", ID: "t1", Command: "run", Policy: "always",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}

	later := now.Add(time.Minute)
	if err := s.UpdateTaskRestarts(ctx, "worker", 4, later); err != nil {
		t.Fatalf("UpdateTaskRestarts() failed: %v", err)
	}

	got, _, err := s.Task(ctx, "worker")
	if err != nil {
		t.Fatalf("Task() failed: %v", err)
	}
	if got.Restarts != 4 {
		t.Errorf("expected 4 restarts, got %d", got.Restarts)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Errorf("expected updated_at %v, got %v", later, got.UpdatedAt)
	}
}

func TestStore_OpenCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "furnace.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if err := s.SaveSession(context.Background(), SessionRecord{
		ID: "sess-1", Name: "one", State: "active",
		CreatedAt: time.Now(), LastActivity: time.Now(),
	}); err != nil {
		t.Errorf("SaveSession() failed: %v", err)
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "furnace.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	now := time.Now().UTC()
	if err := s.SaveTask(ctx, TaskRecord{
		Name: "worker", ID: "t1", Command: "run", Policy: "always",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("SaveTask() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open() reopen failed: %v", err)
	}
	defer reopened.Close()

	tasks, err := reopened.Tasks(ctx)
	if err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != "worker" {
		t.Errorf("expected persisted task, got %v", tasks)
	}
}
