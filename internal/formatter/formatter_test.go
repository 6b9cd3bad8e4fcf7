package formatter

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/repositories"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/shared"
	"github.com/desertthunder/postmate/internal/tasks"
	th "github.com/desertthunder/postmate/internal/testing"
)

func sampleAccounts() []admin.AccountView {
	login := time.Date(2025, 1, 2, 3, 4, 0, 0, time.UTC)
	alice := models.NewAccount("alice", "pw")
	alice.ID, alice.Sequence, alice.LastLogin = "acc-1", 1, &login
	bob := models.NewAccount("bob", "pw")
	bob.ID, bob.Sequence, bob.IsActive = "acc-2", 2, false

	return []admin.AccountView{
		{Account: alice, Status: alice.Status(), Proxy: "http://10.0.0.1:8080"},
		{Account: bob, Status: bob.Status()},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"CSV", FormatCSV, false},
		{" json ", FormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestRender(t *testing.T) {
	t.Run("Accounts as text", func(t *testing.T) {
		data, err := Render(FormatText, sampleAccounts())
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		output := string(data)
		for _, want := range []string{"Username", "alice", "bob", "inactive", "http://10.0.0.1:8080"} {
			if !strings.Contains(output, want) {
				t.Errorf("text output missing %q:\n%s", want, output)
			}
		}
	})

	t.Run("Accounts as CSV", func(t *testing.T) {
		data, err := Render(FormatCSV, sampleAccounts())
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}

		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("expected header and two rows, got %d", len(records))
		}
		if strings.Join(records[0], ",") != "#,ID,Username,Status,Proxy,Last Login" {
			t.Errorf("unexpected headers %v", records[0])
		}
		if records[1][2] != "alice" || records[2][3] != "inactive" {
			t.Errorf("unexpected rows %v", records[1:])
		}
	})

	t.Run("Accounts as JSON hide credentials", func(t *testing.T) {
		data, err := Render(FormatJSON, sampleAccounts())
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		if strings.Contains(string(data), `"password"`) {
			t.Error("JSON output must not contain passwords")
		}

		var decoded []map[string]any
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if decoded[0]["username"] != "alice" || decoded[0]["status"] != "active" {
			t.Errorf("unexpected JSON %v", decoded[0])
		}
	})

	t.Run("Tasks with commas in errors", func(t *testing.T) {
		task := models.NewTask("acc-1", models.KindPhoto, "hi", "/m/a.jpg")
		task.ID, task.Sequence, task.Status = "task-1", 7, models.StatusFailed
		task.ErrorMessage = "Media upload failed: bad ratio, try again"

		data, err := Render(FormatCSV, []admin.TaskView{{Task: task, Username: "alice"}})
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
		if err != nil {
			t.Fatalf("output is not valid CSV: %v", err)
		}
		if records[1][7] != task.ErrorMessage {
			t.Errorf("error column mangled: %q", records[1][7])
		}
	})

	t.Run("Empty list", func(t *testing.T) {
		data, err := Render(FormatText, []admin.ProxyView{})
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "(none)\n" {
			t.Errorf("unexpected empty output %q", data)
		}
	})

	t.Run("Validity", func(t *testing.T) {
		data, err := Render(FormatText, []session.Validation{
			{Username: "alice", Verdict: session.VerdictValid},
			{Username: "bob", Verdict: session.VerdictInvalidCredentials, Error: "invalid credentials: bob"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "invalid_credentials") {
			t.Errorf("missing verdict in %s", data)
		}
	})

	t.Run("Unsupported type", func(t *testing.T) {
		if _, err := Render(FormatText, 42); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestReports(t *testing.T) {
	t.Run("BulkReportToText", func(t *testing.T) {
		report := &admin.BulkReport{
			Created: []*models.Account{models.NewAccount("alice", "pw")},
			Failed: []repositories.BulkFailure{
				{Row: 3, Reason: "invalid input: expected username:password"},
				{Row: 5, Username: "bob", Reason: "duplicate entry: username already registered: bob"},
			},
		}

		output := string(BulkReportToText(report))
		for _, want := range []string{"Created: 1", "Failed: 2", "line 3 (-)", "line 5 (bob)"} {
			if !strings.Contains(output, want) {
				t.Errorf("report missing %q:\n%s", want, output)
			}
		}

		data, err := Render(FormatCSV, report)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Count(string(data), "\n") != 4 {
			t.Errorf("expected header plus three rows, got:\n%s", data)
		}
	})

	t.Run("StatsToText", func(t *testing.T) {
		output := string(StatsToText(&admin.Stats{
			Accounts: 3, ActiveAccounts: 2, Challenged: 1,
			Tasks: map[models.TaskStatus]int{models.StatusPending: 4, models.StatusFailed: 1},
		}))
		if !strings.Contains(output, "Accounts: 3 (active 2, challenge 1)") || !strings.Contains(output, "pending    4") {
			t.Errorf("unexpected stats output:\n%s", output)
		}
	})

	t.Run("OutcomeToText", func(t *testing.T) {
		output := string(OutcomeToText(&tasks.Outcome{
			TaskID:  "task-1",
			Status:  models.StatusFailed,
			Message: "challenge required: alice",
			Err:     shared.ErrChallengeRequired,
		}))
		if !strings.Contains(output, "Status: failed") || !strings.Contains(output, "Error: challenge required: alice") {
			t.Errorf("unexpected outcome output:\n%s", output)
		}
	})
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.csv")
	if err := WriteFile(FormatCSV, sampleAccounts(), path); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	th.AssertFileExists(t, path)
	if !strings.Contains(th.MustReadFile(t, path), "alice") {
		t.Error("file missing account row")
	}

	err := WriteFile(FormatCSV, sampleAccounts(), filepath.Join(t.TempDir(), "missing", "out.csv"))
	if err == nil || errors.Unwrap(err) == nil {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}
