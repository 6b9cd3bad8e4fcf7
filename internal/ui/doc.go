// Package ui implements an interactive terminal dashboard using bubbletea's Elm architecture.
//
// The dashboard has three tabs, each a filterable bubbles list:
//  1. [AccountsView] : accounts with status, proxy and last login
//  2. [TasksView] : publish tasks with status, schedule and result
//  3. [ProxiesView] : proxies with the number of linked accounts
//
// Two modal views sit on top of the tabs: [ConfirmView] asks before a delete,
// and [RunView] shows the phases of a task advanced with enter.
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the task executor, providing non-blocking status reporting during runs.
// Lists reload on a ticker so work done by a background worker shows up without pressing r.
//
// Keyboard navigation: tab/shift+tab switch tabs, r refreshes, enter runs a pending task,
// x resets a failed task, d deletes the selection and q quits, with contextual help displayed via charmbracelet/bubbles/help.
package ui
