package repositories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"

	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func mustAccount(t *testing.T, repo *AccountRepository, username string) *models.Account {
	t.Helper()
	account := models.NewAccount(username, "pw-"+username)
	if err := repo.Create(context.Background(), account); err != nil {
		t.Fatalf("failed to create account %s: %v", username, err)
	}
	return account
}

func mustTask(t *testing.T, repo *TaskRepository, accountID string) *models.Task {
	t.Helper()
	task := models.NewTask(accountID, models.KindPhoto, "caption", "photo.jpg")
	if err := repo.Create(context.Background(), task); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return task
}

func TestAccountRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "alice")

		if account.ID == "" {
			t.Error("account ID should be set after creation")
		}
		if account.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", account.Sequence)
		}
	})

	t.Run("Get", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "alice")

		retrieved, err := repo.Get(ctx, account.ID)
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}

		if retrieved.Username != "alice" || retrieved.Password != "pw-alice" {
			t.Errorf("unexpected account: %+v", retrieved)
		}
		if !retrieved.IsActive || retrieved.ChallengePending {
			t.Errorf("new account should be active without challenge: %+v", retrieved)
		}
		if retrieved.ProxyID != nil || retrieved.LastLogin != nil {
			t.Errorf("nullable fields should be nil: %+v", retrieved)
		}
	})

	t.Run("GetByUsername", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "bob")

		retrieved, err := repo.GetByUsername(ctx, "bob")
		if err != nil {
			t.Fatalf("failed to get account: %v", err)
		}
		if retrieved.ID != account.ID {
			t.Errorf("expected ID %s, got %s", account.ID, retrieved.ID)
		}
	})

	t.Run("Update", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "alice")

		account.Email = "alice@example.com"
		account.Password = "new-secret"
		if err := repo.Update(ctx, account); err != nil {
			t.Fatalf("failed to update account: %v", err)
		}

		retrieved, _ := repo.Get(ctx, account.ID)
		if retrieved.Email != "alice@example.com" || retrieved.Password != "new-secret" {
			t.Errorf("update not persisted: %+v", retrieved)
		}
	})

	t.Run("UpdateSession", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "alice")
		login := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

		if err := repo.UpdateSession(ctx, account.ID, `{"username":"alice"}`, login); err != nil {
			t.Fatalf("failed to update session: %v", err)
		}

		retrieved, _ := repo.Get(ctx, account.ID)
		if retrieved.SessionData != `{"username":"alice"}` {
			t.Errorf("unexpected session data %q", retrieved.SessionData)
		}
		if retrieved.LastLogin == nil || !retrieved.LastLogin.Equal(login) {
			t.Errorf("expected last login %v, got %v", login, retrieved.LastLogin)
		}

		account.Email = "changed@example.com"
		if err := repo.Update(ctx, account); err != nil {
			t.Fatalf("failed to update account: %v", err)
		}
		retrieved, _ = repo.Get(ctx, account.ID)
		if retrieved.SessionData == "" {
			t.Error("Update must not clobber session data")
		}
	})

	t.Run("SetStatus", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		account := mustAccount(t, repo, "alice")

		if err := repo.SetStatus(ctx, account.ID, false, true); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}

		retrieved, _ := repo.Get(ctx, account.ID)
		if retrieved.IsActive || !retrieved.ChallengePending {
			t.Errorf("expected suspended account, got %+v", retrieved)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		a := mustAccount(t, repo, "a")
		mustAccount(t, repo, "b")
		c := mustAccount(t, repo, "c")

		if err := repo.SetStatus(ctx, c.ID, false, false); err != nil {
			t.Fatalf("failed to set status: %v", err)
		}

		all, err := repo.List(ctx, map[string]any{})
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 accounts, got %d", len(all))
		}
		if all[0].ID != a.ID {
			t.Errorf("accounts should be ordered by sequence")
		}

		active, err := repo.List(ctx, map[string]any{"active": true})
		if err != nil {
			t.Fatalf("failed to list active accounts: %v", err)
		}
		if len(active) != 2 {
			t.Errorf("expected 2 active accounts, got %d", len(active))
		}
	})

	t.Run("BulkCreate", func(t *testing.T) {
		repo := NewAccountRepository(setupTestDB(t))
		mustAccount(t, repo, "taken")

		input := []*models.Account{
			models.NewAccount("one", "pw"),
			models.NewAccount("taken", "pw"),
			models.NewAccount("two", "pw"),
			models.NewAccount("three", ""),
			models.NewAccount("four", "pw"),
		}

		result := repo.BulkCreate(ctx, input)

		var created []string
		for _, a := range result.Created {
			created = append(created, a.Username)
		}
		if diff := cmp.Diff([]string{"one", "two", "four"}, created); diff != "" {
			t.Errorf("created mismatch (-want +got):\n%s", diff)
		}

		if len(result.Failed) != 2 {
			t.Fatalf("expected 2 failures, got %d", len(result.Failed))
		}
		if result.Failed[0].Row != 2 || !errors.Is(result.Failed[0].Err, shared.ErrDuplicateUsername) {
			t.Errorf("unexpected first failure: %+v", result.Failed[0])
		}
		if result.Failed[1].Row != 4 || !errors.Is(result.Failed[1].Err, shared.ErrInvalidInput) {
			t.Errorf("unexpected second failure: %+v", result.Failed[1])
		}

		n, _ := repo.Count(ctx)
		if n != 4 {
			t.Errorf("expected 4 stored accounts, got %d", n)
		}
	})

	t.Run("DeleteCascade", func(t *testing.T) {
		db := setupTestDB(t)
		accounts := NewAccountRepository(db)
		proxies := NewProxyRepository(db)
		tasks := NewTaskRepository(db)

		proxy := models.NewProxy(models.ProxyHTTP, "10.0.0.1", 8080)
		if err := proxies.Create(ctx, proxy); err != nil {
			t.Fatalf("failed to create proxy: %v", err)
		}

		account := mustAccount(t, accounts, "alice")
		other := mustAccount(t, accounts, "bob")
		if err := accounts.AssignProxy(ctx, account.ID, proxy.ID); err != nil {
			t.Fatalf("failed to assign proxy: %v", err)
		}
		mustTask(t, tasks, account.ID)
		mustTask(t, tasks, account.ID)
		kept := mustTask(t, tasks, other.ID)

		removed, err := accounts.DeleteCascade(ctx, account.ID)
		if err != nil {
			t.Fatalf("failed to delete account: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 removed tasks, got %d", removed)
		}

		if _, err := accounts.Get(ctx, account.ID); !errors.Is(err, shared.ErrAccountNotFound) {
			t.Errorf("expected account to be gone, got %v", err)
		}

		remaining, _ := tasks.List(ctx, map[string]any{})
		if len(remaining) != 1 || remaining[0].ID != kept.ID {
			t.Errorf("only the other account's task should remain, got %d", len(remaining))
		}

		if _, err := proxies.Get(ctx, proxy.ID); err != nil {
			t.Errorf("proxy should survive account deletion: %v", err)
		}
	})
}

func TestProxyRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create & Get", func(t *testing.T) {
		repo := NewProxyRepository(setupTestDB(t))
		proxy, _ := models.ParseProxyURL("socks5://user:pw@proxy.local:1080")

		if err := repo.Create(ctx, proxy); err != nil {
			t.Fatalf("failed to create proxy: %v", err)
		}

		retrieved, err := repo.Get(ctx, proxy.ID)
		if err != nil {
			t.Fatalf("failed to get proxy: %v", err)
		}
		if retrieved.URL() != "socks5://user:pw@proxy.local:1080" {
			t.Errorf("unexpected proxy url %s", retrieved.URL())
		}
	})

	t.Run("Delete unlinks accounts", func(t *testing.T) {
		db := setupTestDB(t)
		proxies := NewProxyRepository(db)
		accounts := NewAccountRepository(db)

		proxy := models.NewProxy(models.ProxyHTTP, "10.0.0.1", 8080)
		if err := proxies.Create(ctx, proxy); err != nil {
			t.Fatalf("failed to create proxy: %v", err)
		}
		a := mustAccount(t, accounts, "a")
		b := mustAccount(t, accounts, "b")
		for _, acc := range []*models.Account{a, b} {
			if err := accounts.AssignProxy(ctx, acc.ID, proxy.ID); err != nil {
				t.Fatalf("failed to assign proxy: %v", err)
			}
		}

		n, err := proxies.CountAccounts(ctx, proxy.ID)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 linked accounts, got %d (%v)", n, err)
		}

		usage, err := proxies.Usage(ctx)
		if err != nil || usage[proxy.ID] != 2 {
			t.Fatalf("expected usage 2, got %v (%v)", usage, err)
		}

		if err := proxies.Delete(ctx, proxy.ID); err != nil {
			t.Fatalf("failed to delete proxy: %v", err)
		}

		for _, acc := range []*models.Account{a, b} {
			retrieved, err := accounts.Get(ctx, acc.ID)
			if err != nil {
				t.Fatalf("account should survive proxy deletion: %v", err)
			}
			if retrieved.ProxyID != nil {
				t.Errorf("account %s still references deleted proxy", acc.Username)
			}
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewProxyRepository(setupTestDB(t))
		for i := range 3 {
			p := models.NewProxy(models.ProxyHTTP, fmt.Sprintf("10.0.0.%d", i+1), 8080)
			p.IsActive = i != 1
			if err := repo.Create(ctx, p); err != nil {
				t.Fatalf("failed to create proxy: %v", err)
			}
		}

		active, err := repo.List(ctx, map[string]any{"active": true})
		if err != nil {
			t.Fatalf("failed to list proxies: %v", err)
		}
		if len(active) != 2 {
			t.Errorf("expected 2 active proxies, got %d", len(active))
		}
	})
}

func TestTaskRepository(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*TaskRepository, *models.Account) {
		db := setupTestDB(t)
		account := mustAccount(t, NewAccountRepository(db), "alice")
		return NewTaskRepository(db), account
	}

	t.Run("Create & Get", func(t *testing.T) {
		repo, account := setup(t)
		task := models.NewTask(account.ID, models.KindCarousel, "hello", "a, 1.jpg", "b.jpg")
		scheduled := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
		task.ScheduledTime = &scheduled

		if err := repo.Create(ctx, task); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}

		retrieved, err := repo.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("failed to get task: %v", err)
		}
		if retrieved.Status != models.StatusPending {
			t.Errorf("expected pending, got %s", retrieved.Status)
		}
		if diff := cmp.Diff([]string{"a, 1.jpg", "b.jpg"}, retrieved.MediaItems()); diff != "" {
			t.Errorf("media mismatch (-want +got):\n%s", diff)
		}
		if retrieved.ScheduledTime == nil || !retrieved.ScheduledTime.Equal(scheduled) {
			t.Errorf("expected schedule %v, got %v", scheduled, retrieved.ScheduledTime)
		}
	})

	t.Run("Lifecycle", func(t *testing.T) {
		repo, account := setup(t)
		task := mustTask(t, repo, account.ID)

		if err := repo.Claim(ctx, task.ID); err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
		if err := repo.Complete(ctx, task.ID, "media-123"); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}

		retrieved, _ := repo.Get(ctx, task.ID)
		if retrieved.Status != models.StatusCompleted || retrieved.MediaID != "media-123" {
			t.Errorf("unexpected task after completion: %+v", retrieved)
		}
		if retrieved.CompletedAt == nil {
			t.Error("completed_at should be set")
		}
		if retrieved.Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", retrieved.Attempts)
		}
	})

	t.Run("Fail and Reset", func(t *testing.T) {
		repo, account := setup(t)
		task := mustTask(t, repo, account.ID)

		if err := repo.Claim(ctx, task.ID); err != nil {
			t.Fatalf("failed to claim: %v", err)
		}
		if err := repo.Fail(ctx, task.ID, "upload rejected"); err != nil {
			t.Fatalf("failed to fail task: %v", err)
		}

		retrieved, _ := repo.Get(ctx, task.ID)
		if retrieved.Status != models.StatusFailed || retrieved.ErrorMessage != "upload rejected" {
			t.Errorf("unexpected failed task: %+v", retrieved)
		}

		if err := repo.Reset(ctx, task.ID); err != nil {
			t.Fatalf("failed to reset: %v", err)
		}
		retrieved, _ = repo.Get(ctx, task.ID)
		if retrieved.Status != models.StatusPending || retrieved.ErrorMessage != "" || retrieved.CompletedAt != nil {
			t.Errorf("unexpected reset task: %+v", retrieved)
		}
	})

	t.Run("Concurrent Claim", func(t *testing.T) {
		repo, account := setup(t)
		task := mustTask(t, repo, account.ID)

		const callers = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			won      int
			rejected int
		)
		for range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.Claim(ctx, task.ID)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					won++
				case errors.Is(err, shared.ErrInvalidState):
					rejected++
				default:
					t.Errorf("unexpected claim error: %v", err)
				}
			}()
		}
		wg.Wait()

		if won != 1 || rejected != callers-1 {
			t.Errorf("expected exactly one winner, got won=%d rejected=%d", won, rejected)
		}
	})

	t.Run("ListDue", func(t *testing.T) {
		repo, account := setup(t)
		now := time.Now().UTC()

		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)

		unscheduled := mustTask(t, repo, account.ID)

		dueTask := models.NewTask(account.ID, models.KindPhoto, "", "a.jpg")
		dueTask.ScheduledTime = &past
		if err := repo.Create(ctx, dueTask); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}

		later := models.NewTask(account.ID, models.KindPhoto, "", "a.jpg")
		later.ScheduledTime = &future
		if err := repo.Create(ctx, later); err != nil {
			t.Fatalf("failed to create task: %v", err)
		}

		claimed := mustTask(t, repo, account.ID)
		if err := repo.Claim(ctx, claimed.ID); err != nil {
			t.Fatalf("failed to claim: %v", err)
		}

		due, err := repo.ListDue(ctx, now, 0)
		if err != nil {
			t.Fatalf("failed to list due tasks: %v", err)
		}

		var ids []string
		for _, task := range due {
			ids = append(ids, task.ID)
		}
		if diff := cmp.Diff([]string{unscheduled.ID, dueTask.ID}, ids); diff != "" {
			t.Errorf("due mismatch (-want +got):\n%s", diff)
		}

		limited, _ := repo.ListDue(ctx, now, 1)
		if len(limited) != 1 {
			t.Errorf("expected limit to apply, got %d", len(limited))
		}
	})

	t.Run("CountByStatus", func(t *testing.T) {
		repo, account := setup(t)
		mustTask(t, repo, account.ID)
		claimed := mustTask(t, repo, account.ID)
		if err := repo.Claim(ctx, claimed.ID); err != nil {
			t.Fatalf("failed to claim: %v", err)
		}

		counts, err := repo.CountByStatus(ctx)
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		want := map[models.TaskStatus]int{
			models.StatusPending:    1,
			models.StatusProcessing: 1,
			models.StatusCompleted:  0,
			models.StatusFailed:     0,
		}
		if diff := cmp.Diff(want, counts); diff != "" {
			t.Errorf("counts mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		var got int
		err := withTx(ctx, db, func(tx *sqlx.Tx) error {
			var err error
			got, err = NextSequence(ctx, tx, "tasks")
			return err
		})
		if err != nil {
			t.Fatalf("NextSequence failed: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}

	t.Run("rolled back sequence is reused", func(t *testing.T) {
		_ = withTx(ctx, db, func(tx *sqlx.Tx) error {
			if _, err := NextSequence(ctx, tx, "tasks"); err != nil {
				return err
			}
			return errors.New("abort")
		})

		var got int
		_ = withTx(ctx, db, func(tx *sqlx.Tx) error {
			var err error
			got, err = NextSequence(ctx, tx, "tasks")
			return err
		})
		if got != 4 {
			t.Errorf("expected sequence 4 after rollback, got %d", got)
		}
	})
}
