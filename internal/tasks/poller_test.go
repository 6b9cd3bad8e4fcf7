package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/platform"
	"github.com/desertthunder/postmate/internal/session"
	tu "github.com/desertthunder/postmate/internal/testing"
)

func TestPollerTick(t *testing.T) {
	ctx := context.Background()

	t.Run("One task per account in flight", func(t *testing.T) {
		f := setup(t)
		alice := f.account(t, "alice")
		bob := f.account(t, "bob")
		f.task(t, alice.ID)
		f.task(t, alice.ID)
		f.task(t, bob.ID)

		started := make(chan struct{}, 3)
		gate := make(chan struct{})
		f.platform.Set(func(p *tu.MockPlatform) {
			p.PublishGate = gate
			p.OnPublish = func(platform.PublishRequest) { started <- struct{}{} }
		})

		poller := NewPoller(PollerOpts{Tasks: f.tasks, Runner: f.executor, Concurrency: 4})

		done := make(chan TickResult, 1)
		go func() {
			result, err := poller.Tick(ctx)
			if err != nil {
				t.Errorf("tick failed: %v", err)
			}
			done <- result
		}()

		for range 2 {
			select {
			case <-started:
			case <-time.After(5 * time.Second):
				t.Fatal("timed out waiting for publishes to start")
			}
		}
		close(gate)

		result := <-done
		if result.Due != 3 || result.Started != 2 || result.Skipped != 1 || result.Completed != 2 {
			t.Errorf("unexpected first tick %+v", result)
		}

		result, err := poller.Tick(ctx)
		if err != nil {
			t.Fatalf("second tick failed: %v", err)
		}
		if result.Due != 1 || result.Completed != 1 {
			t.Errorf("unexpected second tick %+v", result)
		}
		if f.platform.Count("publish") != 3 {
			t.Errorf("expected three publishes, got %d", f.platform.Count("publish"))
		}
	})

	t.Run("Scheduled tasks wait", func(t *testing.T) {
		f := setup(t)
		alice := f.account(t, "alice")
		later := time.Now().Add(time.Hour).UTC()
		f.task(t, alice.ID, func(task *models.Task) { task.ScheduledTime = &later })

		poller := NewPoller(PollerOpts{Tasks: f.tasks, Runner: f.executor})
		result, err := poller.Tick(ctx)
		if err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		if result.Due != 0 || result.Started != 0 {
			t.Errorf("expected nothing due, got %+v", result)
		}

		clock := func() time.Time { return later.Add(time.Second) }
		exec := NewExecutor(ExecutorOpts{Tasks: f.tasks, Sessions: f.manager, Now: clock})
		poller = NewPoller(PollerOpts{Tasks: f.tasks, Runner: exec, Now: clock})
		if result, _ = poller.Tick(ctx); result.Completed != 1 {
			t.Errorf("expected the task to run once due, got %+v", result)
		}
	})

	t.Run("Failures are counted", func(t *testing.T) {
		f := setup(t)
		alice := f.account(t, "alice")
		f.task(t, alice.ID)
		f.platform.SetPassword("alice", "rotated")

		poller := NewPoller(PollerOpts{Tasks: f.tasks, Runner: f.executor})
		result, err := poller.Tick(ctx)
		if err != nil {
			t.Fatalf("tick failed: %v", err)
		}
		if result.Failed != 1 || result.Completed != 0 {
			t.Errorf("expected one failure, got %+v", result)
		}
	})
}

func TestPollerStart(t *testing.T) {
	f := setup(t)
	alice := f.account(t, "alice")
	task := f.task(t, alice.ID)

	ctx, cancel := context.WithCancel(context.Background())
	poller := NewPoller(PollerOpts{Tasks: f.tasks, Runner: f.executor, Interval: 10 * time.Millisecond})

	stopped := make(chan error, 1)
	go func() { stopped <- poller.Start(ctx) }()

	deadline := time.After(5 * time.Second)
	for f.reload(t, task.ID).Status != models.StatusCompleted {
		select {
		case <-deadline:
			cancel()
			t.Fatal("task was never run")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestSweepValidity(t *testing.T) {
	f := setup(t)
	alice := f.account(t, "alice")
	bob := f.account(t, "bob")
	carol := f.account(t, "carol")
	f.platform.SetPassword("bob", "rotated")
	f.platform.SetChallenge("carol", true)

	results := SweepValidity(context.Background(), f.manager, []*models.Account{alice, bob, carol}, 2)
	if len(results) != 3 {
		t.Fatalf("expected three results, got %d", len(results))
	}

	want := []session.Verdict{session.VerdictValid, session.VerdictInvalidCredentials, session.VerdictChallenge}
	for i, r := range results {
		if r.Verdict != want[i] {
			t.Errorf("%s: expected %s, got %s (%s)", r.Username, want[i], r.Verdict, r.Error)
		}
	}

	counts := CountVerdicts(results)
	if counts[session.VerdictValid] != 1 || counts[session.VerdictInvalidCredentials] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	t.Run("Cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := SweepValidity(ctx, f.manager, []*models.Account{alice}, 1)
		if results[0].Verdict != session.VerdictError {
			t.Errorf("expected error verdict, got %s", results[0].Verdict)
		}
	})
}
