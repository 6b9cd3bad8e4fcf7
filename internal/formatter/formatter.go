// package formatter renders accounts, proxies, tasks and reports as plain-text tables, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/session"
	"github.com/desertthunder/postmate/internal/tasks"
)

// Format selects a renderer.
type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name, defaulting to text.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, csv or json)", s)
	}
}

// Render dispatches to the text, CSV or JSON form of rows.
func Render(f Format, v any) ([]byte, error) {
	if f == FormatJSON {
		return MarshalJSON(v, true)
	}

	var headers []string
	var rows [][]string
	switch v := v.(type) {
	case []admin.AccountView:
		headers, rows = accountRows(v)
	case []admin.ProxyView:
		headers, rows = proxyRows(v)
	case []admin.TaskView:
		headers, rows = taskRows(v)
	case []session.Validation:
		headers, rows = validityRows(v)
	case *admin.BulkReport:
		if f == FormatText {
			return BulkReportToText(v), nil
		}
		headers, rows = bulkRows(v)
	case *admin.Stats:
		return StatsToText(v), nil
	case *tasks.Outcome:
		return OutcomeToText(v), nil
	default:
		return nil, fmt.Errorf("no renderer for %T", v)
	}

	if f == FormatCSV {
		return toCSV(headers, rows)
	}
	return toTable(headers, rows), nil
}

// MarshalJSON encodes v, indented when pretty is set.
func MarshalJSON(v any, pretty bool) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile renders v and writes it to path.
func WriteFile(f Format, v any, path string) error {
	data, err := Render(f, v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func accountRows(accounts []admin.AccountView) ([]string, [][]string) {
	headers := []string{"#", "ID", "Username", "Status", "Proxy", "Last Login"}
	rows := make([][]string, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, []string{
			strconv.Itoa(a.Sequence),
			a.ID,
			a.Username,
			a.Status,
			a.Proxy,
			formatTime(a.LastLogin),
		})
	}
	return headers, rows
}

func proxyRows(proxies []admin.ProxyView) ([]string, [][]string) {
	headers := []string{"#", "ID", "URL", "Active", "Accounts"}
	rows := make([][]string, 0, len(proxies))
	for _, p := range proxies {
		rows = append(rows, []string{
			strconv.Itoa(p.Sequence),
			p.ID,
			p.URL,
			strconv.FormatBool(p.IsActive),
			strconv.Itoa(p.Accounts),
		})
	}
	return headers, rows
}

func taskRows(list []admin.TaskView) ([]string, [][]string) {
	headers := []string{"#", "ID", "Account", "Kind", "Status", "Scheduled", "Media ID", "Error"}
	rows := make([][]string, 0, len(list))
	for _, t := range list {
		rows = append(rows, []string{
			strconv.Itoa(t.Sequence),
			t.ID,
			t.Username,
			string(t.Kind),
			string(t.Status),
			formatTime(t.ScheduledTime),
			t.MediaID,
			t.ErrorMessage,
		})
	}
	return headers, rows
}

func validityRows(results []session.Validation) ([]string, [][]string) {
	headers := []string{"Account", "Verdict", "Error"}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Username, string(r.Verdict), r.Error})
	}
	return headers, rows
}

func bulkRows(report *admin.BulkReport) ([]string, [][]string) {
	headers := []string{"Row", "Username", "Result", "Reason"}
	rows := make([][]string, 0, len(report.Created)+len(report.Failed))
	for _, a := range report.Created {
		rows = append(rows, []string{"", a.Username, "created", ""})
	}
	for _, f := range report.Failed {
		rows = append(rows, []string{strconv.Itoa(f.Row), f.Username, "failed", f.Reason})
	}
	return headers, rows
}

// BulkReportToText summarizes an import with one line per failure.
func BulkReportToText(report *admin.BulkReport) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Created: %d\n", len(report.Created)))
	buf.WriteString(fmt.Sprintf("Failed: %d\n", len(report.Failed)))
	for _, f := range report.Failed {
		name := f.Username
		if name == "" {
			name = "-"
		}
		buf.WriteString(fmt.Sprintf("  line %d (%s): %s\n", f.Row, name, f.Reason))
	}
	return buf.Bytes()
}

// StatsToText renders entity counts.
func StatsToText(s *admin.Stats) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Accounts: %d (active %d, challenge %d)\n", s.Accounts, s.ActiveAccounts, s.Challenged))
	buf.WriteString(fmt.Sprintf("Proxies: %d\n", s.Proxies))
	buf.WriteString("Tasks:\n")
	for _, status := range []models.TaskStatus{models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed} {
		buf.WriteString(fmt.Sprintf("  %-10s %d\n", status, s.Tasks[status]))
	}
	return buf.Bytes()
}

// OutcomeToText renders the result of one task run.
func OutcomeToText(o *tasks.Outcome) []byte {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Task: %s\n", o.TaskID))
	buf.WriteString(fmt.Sprintf("Status: %s\n", o.Status))
	if o.MediaID != "" {
		buf.WriteString(fmt.Sprintf("Media ID: %s\n", o.MediaID))
	}
	if o.Message != "" {
		buf.WriteString(fmt.Sprintf("Error: %s\n", o.Message))
	}
	buf.WriteString(fmt.Sprintf("Duration: %s\n", o.Duration.Round(time.Millisecond)))
	return buf.Bytes()
}

func toCSV(headers []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func toTable(headers []string, rows [][]string) []byte {
	if len(rows) == 0 {
		return []byte("(none)\n")
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...)
	return []byte(t.String() + "\n")
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
