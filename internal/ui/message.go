package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/postmate/internal/admin"
	"github.com/desertthunder/postmate/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
	err  error
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgLoaded MsgKind = iota
	MsgProgressUpdate
	MsgRunComplete
	MsgActionDone
	MsgTick
)

type snapshot struct {
	accounts []admin.AccountView
	tasks    []admin.TaskView
	proxies  []admin.ProxyView
}

// loadedMsg is the constructor for [MsgLoaded]
func loadedMsg(s snapshot, err error) Msg {
	return Msg{kind: MsgLoaded, data: s, err: err}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// runCompleteMsg is the constructor for [MsgRunComplete]
func runCompleteMsg(outcome *tasks.Outcome, err error) Msg {
	return Msg{kind: MsgRunComplete, data: outcome, err: err}
}

// actionDoneMsg is the constructor for [MsgActionDone]; status is shown in the footer.
func actionDoneMsg(status string, err error) Msg {
	return Msg{kind: MsgActionDone, data: status, err: err}
}

// tickMsg is the constructor for [MsgTick]
func tickMsg() Msg {
	return Msg{kind: MsgTick}
}
