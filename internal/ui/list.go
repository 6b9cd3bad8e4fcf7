package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/postmate/internal/admin"
)

var (
	_ list.Item = accountItem{}
	_ list.Item = taskItem{}
	_ list.Item = proxyItem{}
)

// accountItem wraps [admin.AccountView] to implement [list.Item].
type accountItem struct {
	view admin.AccountView
}

func (i accountItem) FilterValue() string { return i.view.Username }
func (i accountItem) Title() string {
	return fmt.Sprintf("#%d %s", i.view.Sequence, i.view.Username)
}
func (i accountItem) Description() string {
	desc := styles.Status(i.view.Status)
	if i.view.Proxy != "" {
		desc = fmt.Sprintf("%s • via %s", desc, i.view.Proxy)
	}
	if i.view.LastLogin != nil {
		desc = fmt.Sprintf("%s • last login %s", desc, i.view.LastLogin.Local().Format("2006-01-02 15:04"))
	}
	return desc
}

// taskItem wraps [admin.TaskView] to implement [list.Item].
type taskItem struct {
	view admin.TaskView
}

func (i taskItem) FilterValue() string {
	return strings.Join([]string{i.view.Username, string(i.view.Status), i.view.Caption}, " ")
}
func (i taskItem) Title() string {
	return fmt.Sprintf("#%d %s by %s", i.view.Sequence, i.view.Kind, i.view.Username)
}
func (i taskItem) Description() string {
	desc := styles.Status(string(i.view.Status))
	if i.view.ScheduledTime != nil {
		desc = fmt.Sprintf("%s • at %s", desc, i.view.ScheduledTime.Local().Format("2006-01-02 15:04"))
	}
	switch {
	case i.view.MediaID != "":
		desc = fmt.Sprintf("%s • %s", desc, i.view.MediaID)
	case i.view.ErrorMessage != "":
		desc = fmt.Sprintf("%s • %s", desc, i.view.ErrorMessage)
	}
	return desc
}

// proxyItem wraps [admin.ProxyView] to implement [list.Item].
type proxyItem struct {
	view admin.ProxyView
}

func (i proxyItem) FilterValue() string { return i.view.URL }
func (i proxyItem) Title() string       { return fmt.Sprintf("#%d %s", i.view.Sequence, i.view.URL) }
func (i proxyItem) Description() string {
	state := styles.ok.Render("enabled")
	if !i.view.IsActive {
		state = styles.err.Render("disabled")
	}
	return fmt.Sprintf("%s • %d account(s)", state, i.view.Accounts)
}
