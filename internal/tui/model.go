// Package tui implements the interactive task view on top of bubbletea.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"gtodo/internal/app"
	"gtodo/internal/cache"
	"gtodo/internal/output"
	"gtodo/internal/syncer"
)

const refreshInterval = time.Second

var views = []cache.Filter{cache.FilterAll, cache.FilterToday, cache.FilterUpcoming}

type (
	tickMsg     time.Time
	noticeMsg   syncer.Notice
	syncDoneMsg struct{ err error }
)

// Model is the bubbletea model of the task view.
type Model struct {
	app *app.App
	ctx context.Context

	view   int
	tasks  []cache.Task
	cursor int

	filter    string
	filtering bool

	status  syncer.Status
	message string
	notice  string

	width  int
	height int
}

// NewModel creates a model over a. ctx bounds the syncs the model starts.
func NewModel(ctx context.Context, a *app.App) Model {
	m := Model{app: a, ctx: ctx}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForNotice(m.app.Engine.Notices()))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForNotice(ch <-chan syncer.Notice) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil
	case tickMsg:
		m.reload()
		return m, tick()
	case noticeMsg:
		m.notice = syncer.Notice(msg).String()
		m.reload()
		return m, waitForNotice(m.app.Engine.Notices())
	case syncDoneMsg:
		if msg.err != nil {
			m.message = "sync failed: " + msg.err.Error()
		} else {
			m.message = "synced"
		}
		m.reload()
		return m, nil
	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "j", "down":
		m.moveCursor(1)
	case "k", "up":
		m.moveCursor(-1)
	case "g", "home":
		m.cursor = 0
	case "G", "end":
		m.cursor = max(len(m.tasks)-1, 0)
	case "tab":
		m.view = (m.view + 1) % len(views)
		m.cursor = 0
		m.reload()
	case " ", "enter":
		m.toggle()
	case "J":
		m.reorder(1)
	case "K":
		m.reorder(-1)
	case "u":
		if _, err := m.app.Undo(); err != nil {
			m.message = err.Error()
		} else {
			m.message = "undone"
		}
		m.reload()
	case "r":
		m.message = "syncing..."
		return m, m.sync()
	case "/":
		m.filtering = true
	case "esc":
		m.filter = ""
		m.reload()
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filtering = false
	case tea.KeyEsc:
		m.filtering = false
		m.filter = ""
	case tea.KeyBackspace:
		if r := []rune(m.filter); len(r) > 0 {
			m.filter = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.filter += string(msg.Runes)
	}
	m.cursor = 0
	m.reload()
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	m.cursor = max(0, min(m.cursor, len(m.tasks)-1))
}

func (m *Model) selected() (cache.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return cache.Task{}, false
	}
	return m.tasks[m.cursor], true
}

func (m *Model) toggle() {
	t, ok := m.selected()
	if !ok {
		return
	}
	completed, err := m.app.Toggle(t.ID)
	switch {
	case err != nil:
		m.message = err.Error()
	case completed:
		m.message = "completed: " + output.CleanTitle(t.Title)
	default:
		m.message = "reopened: " + output.CleanTitle(t.Title)
	}
	m.reload()
}

// reorder moves the selected task one slot in the full list, which is the
// only ordering the store keeps.
func (m *Model) reorder(delta int) {
	t, ok := m.selected()
	if !ok {
		return
	}
	all := m.app.Snapshot(cache.FilterAll)
	pos := -1
	for i, at := range all {
		if at.ID == t.ID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return
	}
	target := pos + delta
	if target < 0 || target >= len(all) {
		return
	}
	if err := m.app.Reorder(t.ID, target); err != nil {
		m.message = err.Error()
		return
	}
	m.reload()
	for i, at := range m.tasks {
		if at.ID == t.ID {
			m.cursor = i
			break
		}
	}
}

func (m Model) sync() tea.Cmd {
	a, ctx := m.app, m.ctx
	return func() tea.Msg {
		return syncDoneMsg{err: a.Sync(ctx)}
	}
}

// reload refreshes the visible tasks and the status from the app.
func (m *Model) reload() {
	tasks := m.app.Snapshot(views[m.view])
	if m.filter != "" {
		needle := strings.ToLower(m.filter)
		kept := tasks[:0:0]
		for _, t := range tasks {
			if strings.Contains(strings.ToLower(output.CleanTitle(t.Title)), needle) {
				kept = append(kept, t)
			}
		}
		tasks = kept
	}
	m.tasks = tasks
	m.status = m.app.Status()
	if m.cursor >= len(m.tasks) {
		m.cursor = max(len(m.tasks)-1, 0)
	}
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("gtodo - %s", views[m.view])))
	if m.filter != "" || m.filtering {
		b.WriteString("  " + filterStyle.Render("/"+m.filter))
	}
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(emptyStyle.Render("no tasks"))
		b.WriteString("\n")
	}
	for i, t := range m.tasks {
		b.WriteString(m.renderTask(i, t))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(statusStyle.Render(statusLine(m.status)))
	if m.message != "" {
		b.WriteString("  " + m.message)
	}
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("j/k move  space toggle  J/K reorder  u undo  r sync  / filter  tab view  q quit"))
	return b.String()
}

func (m Model) renderTask(i int, t cache.Task) string {
	prefix := "  "
	if i == m.cursor {
		prefix = cursorStyle.Render("> ")
	}
	box := "[ ]"
	title := output.CleanTitle(t.Title)
	if m.width > 12 {
		title = output.Truncate(title, m.width-12)
	}
	if t.Completed {
		box = "[x]"
		title = doneStyle.Render(title)
	}
	line := prefix + box + " " + title
	switch t.SyncState {
	case cache.SyncPending:
		line += " " + pendingStyle.Render("*")
	case cache.SyncFailed:
		line += " " + failedStyle.Render("(sync failed)")
	}
	return line
}

func statusLine(st syncer.Status) string {
	s := string(st.Connectivity)
	if st.Pending > 0 {
		s += fmt.Sprintf(" | %d pending", st.Pending)
	}
	if st.Failed > 0 {
		s += fmt.Sprintf(" | %d failed", st.Failed)
	}
	if !st.LastPull.IsZero() {
		s += " | pulled " + st.LastPull.Local().Format("15:04:05")
	}
	return s
}
