package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/models"
	"github.com/desertthunder/postmate/internal/tasks"
)

// Backend is the slice of [admin.Service] the dashboard drives.
type Backend interface {
	ListAccounts(ctx context.Context, criteria map[string]any) ([]admin.AccountView, error)
	ListTasks(ctx context.Context, criteria map[string]any) ([]admin.TaskView, error)
	ListProxies(ctx context.Context) ([]admin.ProxyView, error)
	RunTask(ctx context.Context, id string, progress chan<- tasks.ProgressUpdate) (*tasks.Outcome, error)
	ResetTask(ctx context.Context, id string) error
	DeleteTask(ctx context.Context, id string) error
	DeleteAccount(ctx context.Context, id string) (int64, error)
	DeleteProxy(ctx context.Context, id string) error
}

// ViewState represents the current view in the TUI.
type ViewState int

const (
	AccountsView ViewState = iota
	TasksView
	ProxiesView
	ConfirmView
	RunView
)

var tabNames = []string{"Accounts", "Tasks", "Proxies"}

type run struct {
	progress chan tasks.ProgressUpdate
	done     chan Msg
}

// Model represents the TUI application state.
type Model struct {
	ctx      context.Context
	backend  Backend
	view     ViewState
	tab      ViewState
	refresh  time.Duration
	width    int
	height   int
	lists    [3]list.Model
	pending  list.Item
	run      *run
	progress tasks.ProgressUpdate
	outcome  *tasks.Outcome
	status   string
	err      error
	help     help.Model
	keys     keyMap
}

// NewModel creates a dashboard over backend, reloading every refresh interval when positive.
func NewModel(ctx context.Context, backend Backend, refresh time.Duration) *Model {
	m := &Model{
		ctx:     ctx,
		backend: backend,
		view:    AccountsView,
		tab:     AccountsView,
		refresh: refresh,
		help:    help.New(),
		keys:    newKeyMap(),
	}
	for i, name := range tabNames {
		l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
		l.Title = name
		l.SetShowHelp(false)
		l.KeyMap.Quit.SetEnabled(false)
		m.lists[i] = l
	}
	return m
}

// Init loads every tab and starts the refresh ticker.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.tick())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		for i := range m.lists {
			m.lists[i].SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case RunView:
			return m.handleRunKeys(msg)
		default:
			return m.handleListKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateList(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgLoaded:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.setItems(msg.data.(snapshot))
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgRunComplete:
		m.outcome, _ = msg.data.(*tasks.Outcome)
		m.err = msg.err
		m.run = nil
		return m, m.load()

	case MsgActionDone:
		m.status, _ = msg.data.(string)
		m.err = msg.err
		return m, m.load()

	case MsgTick:
		if m.view == RunView || m.view == ConfirmView {
			return m, m.tick()
		}
		return m, tea.Batch(m.load(), m.tick())
	}
	return m, nil
}

func (m *Model) setItems(s snapshot) {
	accounts := make([]list.Item, len(s.accounts))
	for i, a := range s.accounts {
		accounts[i] = accountItem{view: a}
	}
	taskItems := make([]list.Item, len(s.tasks))
	for i, t := range s.tasks {
		taskItems[i] = taskItem{view: t}
	}
	proxies := make([]list.Item, len(s.proxies))
	for i, p := range s.proxies {
		proxies[i] = proxyItem{view: p}
	}

	m.lists[AccountsView].SetItems(accounts)
	m.lists[TasksView].SetItems(taskItems)
	m.lists[ProxiesView].SetItems(proxies)
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	switch m.view {
	case ConfirmView:
		return m.renderConfirm()
	case RunView:
		return m.renderRun()
	default:
		return m.renderList()
	}
}

func (m *Model) current() *list.Model {
	return &m.lists[m.tab]
}

func (m *Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.current().FilterState() == list.Filtering {
		return m.updateList(msg)
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.next):
		m.tab = (m.tab + 1) % ViewState(len(tabNames))
		m.view = m.tab
		return m, nil
	case key.Matches(msg, m.keys.prev):
		m.tab = (m.tab + ViewState(len(tabNames)) - 1) % ViewState(len(tabNames))
		m.view = m.tab
		return m, nil
	case key.Matches(msg, m.keys.refresh):
		m.status = ""
		return m, m.load()
	case key.Matches(msg, m.keys.remove):
		if item := m.current().SelectedItem(); item != nil {
			m.pending = item
			m.view = ConfirmView
		}
		return m, nil
	case m.tab == TasksView && key.Matches(msg, m.keys.run):
		if item, ok := m.current().SelectedItem().(taskItem); ok {
			if item.view.Status != models.StatusPending {
				m.status = fmt.Sprintf("task #%d is %s", item.view.Sequence, item.view.Status)
				return m, nil
			}
			return m, m.startRun(item.view.ID)
		}
		return m, nil
	case m.tab == TasksView && key.Matches(msg, m.keys.reset):
		if item, ok := m.current().SelectedItem().(taskItem); ok {
			return m, m.resetTask(item.view)
		}
		return m, nil
	}

	return m.updateList(msg)
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		item := m.pending
		m.pending = nil
		m.view = m.tab
		return m, m.remove(item)
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.quit):
		m.pending = nil
		m.view = m.tab
	}
	return m, nil
}

func (m *Model) handleRunKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.run != nil {
		return m, nil
	}
	if key.Matches(msg, m.keys.back) || key.Matches(msg, m.keys.quit) || key.Matches(msg, m.keys.run) {
		m.view = m.tab
		m.outcome = nil
	}
	return m, nil
}

func (m *Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.lists[m.tab], cmd = m.lists[m.tab].Update(msg)
	return m, cmd
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		var (
			s   snapshot
			err error
		)
		if s.accounts, err = m.backend.ListAccounts(m.ctx, nil); err != nil {
			return loadedMsg(s, err)
		}
		if s.tasks, err = m.backend.ListTasks(m.ctx, nil); err != nil {
			return loadedMsg(s, err)
		}
		s.proxies, err = m.backend.ListProxies(m.ctx)
		return loadedMsg(s, err)
	}
}

func (m *Model) tick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(time.Time) tea.Msg { return tickMsg() })
}

func (m *Model) startRun(id string) tea.Cmd {
	r := &run{
		progress: make(chan tasks.ProgressUpdate, 16),
		done:     make(chan Msg, 1),
	}
	m.run = r
	m.view = RunView
	m.outcome = nil
	m.err = nil
	m.progress = tasks.ProgressUpdate{TaskID: id, Message: "Starting..."}

	go func() {
		outcome, err := m.backend.RunTask(m.ctx, id, r.progress)
		r.done <- runCompleteMsg(outcome, err)
		close(r.progress)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	r := m.run
	if r == nil {
		return nil
	}
	return func() tea.Msg {
		update, ok := <-r.progress
		if !ok {
			return <-r.done
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) resetTask(t admin.TaskView) tea.Cmd {
	return func() tea.Msg {
		if err := m.backend.ResetTask(m.ctx, t.ID); err != nil {
			return actionDoneMsg("", err)
		}
		return actionDoneMsg(fmt.Sprintf("task #%d reset to pending", t.Sequence), nil)
	}
}

func (m *Model) remove(item list.Item) tea.Cmd {
	return func() tea.Msg {
		switch item := item.(type) {
		case accountItem:
			removed, err := m.backend.DeleteAccount(m.ctx, item.view.ID)
			if err != nil {
				return actionDoneMsg("", err)
			}
			return actionDoneMsg(fmt.Sprintf("deleted %s and %d task(s)", item.view.Username, removed), nil)
		case taskItem:
			if err := m.backend.DeleteTask(m.ctx, item.view.ID); err != nil {
				return actionDoneMsg("", err)
			}
			return actionDoneMsg(fmt.Sprintf("deleted task #%d", item.view.Sequence), nil)
		case proxyItem:
			if err := m.backend.DeleteProxy(m.ctx, item.view.ID); err != nil {
				return actionDoneMsg("", err)
			}
			return actionDoneMsg(fmt.Sprintf("deleted proxy %s", item.view.URL), nil)
		}
		return nil
	}
}

func (m *Model) renderTabs() string {
	tabs := make([]string, len(tabNames))
	for i, name := range tabNames {
		if ViewState(i) == m.tab {
			tabs[i] = styles.activeTab.Render(name)
		} else {
			tabs[i] = styles.tab.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, tabs...)
}

func (m *Model) renderList() string {
	helpKeys := []key.Binding{m.keys.next, m.keys.refresh, m.keys.remove, m.keys.quit}
	if m.tab == TasksView {
		helpKeys = []key.Binding{m.keys.next, m.keys.run, m.keys.reset, m.keys.remove, m.keys.refresh, m.keys.quit}
	}

	var footer string
	switch {
	case m.err != nil:
		footer = styles.err.Render(fmt.Sprintf("Error: %v", m.err))
	case m.status != "":
		footer = styles.ok.Render(m.status)
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n%s", m.renderTabs(), m.current().View(), footer, m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderConfirm() string {
	var what string
	switch item := m.pending.(type) {
	case accountItem:
		what = fmt.Sprintf("account %s and all of its tasks", item.view.Username)
	case taskItem:
		what = fmt.Sprintf("task #%d", item.view.Sequence)
	case proxyItem:
		what = fmt.Sprintf("proxy %s", item.view.URL)
	}

	title := styles.title.Render(fmt.Sprintf("Delete %s?", what))
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no})
	return fmt.Sprintf("%s\n%s", title, helpView)
}

func (m *Model) renderRun() string {
	title := styles.title.Render("Running Task")

	if m.run != nil {
		bar := progressBar(m.progress.Step, m.progress.Total, 30)
		return fmt.Sprintf("%s\n\n%s %s\n%s", title, bar, m.progress.Phase, m.progress.Message)
	}

	helpView := m.help.ShortHelpView([]key.Binding{m.keys.back})
	switch {
	case m.err != nil:
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, styles.err.Render(fmt.Sprintf("Run failed: %v", m.err)), helpView)
	case m.outcome == nil:
		return fmt.Sprintf("%s\n\n%s\n\n%s", title, styles.warn.Render("No result available"), helpView)
	case m.outcome.Status == models.StatusCompleted:
		info := fmt.Sprintf("Published as %s in %s", m.outcome.MediaID, m.outcome.Duration.Round(time.Millisecond))
		return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, styles.ok.Render("✓ Completed"), info, helpView)
	default:
		return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, styles.err.Render("✗ Failed"), m.outcome.Message, helpView)
	}
}

func progressBar(step, total, width int) string {
	if total <= 0 {
		return "[" + strings.Repeat(" ", width) + "]"
	}
	filled := min(width*step/total, width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
