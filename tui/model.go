package tui

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"todo-app/domain"
	"todo-app/ui"
)

type focus int

const (
	focusTitle focus = iota
	focusDetails
	focusDueDate
	focusList
	focusCount
)

type (
	changedMsg   struct{}
	submittedMsg struct{ outcome ui.Outcome }
	deletedMsg   struct{ ok bool }
)

// listItem adapts a todo to bubbles/list.Item.
type listItem struct{ todo domain.Todo }

func (i listItem) Title() string       { return i.todo.Title }
func (i listItem) Description() string { return "Due Date: " + i.todo.DueDate }
func (i listItem) FilterValue() string { return i.todo.Title }

type itemDelegate struct{}

func (d itemDelegate) Height() int                         { return 1 }
func (d itemDelegate) Spacing() int                        { return 0 }
func (d itemDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, _ := item.(listItem)
	line := fmt.Sprintf("%s  %s", it.Title(), mutedStyle.Render(it.Description()))
	if it.todo.Details != "" {
		line += mutedStyle.Render("  " + firstLine(it.todo.Details))
	}
	prefix := "  "
	if index == m.Index() {
		prefix = selectedStyle.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "…"
	}
	return s
}

var (
	keyQuit   = key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit"))
	keyNext   = key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field"))
	keyPrev   = key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous field"))
	keySubmit = key.NewBinding(key.WithKeys("ctrl+s"), key.WithHelp("ctrl+s", "save"))
	keyCancel = key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel edit"))
	keyEdit   = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	keyDelete = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
)

// Model is the Bubble Tea model of the terminal todo screen. All state that
// outlives a keystroke lives in the controller.
type Model struct {
	ctx  context.Context
	ctrl *ui.Controller

	title   textinput.Model
	details textarea.Model
	dueDate textinput.Model
	list    list.Model
	focus   focus

	status    string
	statusErr bool
	width     int
}

// New builds the model for a mounted controller.
func New(ctx context.Context, ctrl *ui.Controller) Model {
	title := textinput.New()
	title.Placeholder = "Title"
	title.CharLimit = 200
	title.Focus()

	details := textarea.New()
	details.Placeholder = "Details"
	details.ShowLineNumbers = false
	details.SetHeight(3)
	details.SetWidth(72)

	due := textinput.New()
	due.Placeholder = domain.DueDateLayout
	due.CharLimit = len(domain.DueDateLayout)

	l := list.New(nil, itemDelegate{}, 76, 10)
	l.Title = "Todo List"
	l.Styles.Title = titleStyle
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)

	m := Model{ctx: ctx, ctrl: ctrl, title: title, details: details, dueDate: due, list: l, width: 80}
	m.syncList()
	return m
}

// Run mounts ctrl, runs the program until the user quits and unmounts it.
func Run(ctx context.Context, ctrl *ui.Controller, opts ...tea.ProgramOption) error {
	if err := ctrl.Mount(ctx); err != nil {
		return err
	}
	defer ctrl.Unmount()
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(New(ctx, ctrl), opts...).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForChange())
}

func (m Model) waitForChange() tea.Cmd {
	changes := m.ctrl.Changes()
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func (m Model) submit() tea.Cmd {
	m.ctrl.SetFields(m.fields())
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return submittedMsg{outcome: ctrl.Submit(ctx)}
	}
}

func (m Model) remove(id string) tea.Cmd {
	ctx, ctrl := m.ctx, m.ctrl
	return func() tea.Msg {
		return deletedMsg{ok: ctrl.Delete(ctx, id)}
	}
}

func (m Model) fields() domain.TodoFields {
	return domain.TodoFields{
		Title:   strings.TrimSpace(m.title.Value()),
		Details: m.details.Value(),
		DueDate: strings.TrimSpace(m.dueDate.Value()),
	}
}

func (m *Model) loadFields(f domain.TodoFields) {
	m.title.SetValue(f.Title)
	m.details.SetValue(f.Details)
	m.dueDate.SetValue(f.DueDate)
}

func (m *Model) syncList() {
	todos := m.ctrl.State().Todos
	items := make([]list.Item, 0, len(todos))
	for _, t := range todos {
		items = append(items, listItem{todo: t})
	}
	m.list.SetItems(items)
}

func (m *Model) setFocus(f focus) tea.Cmd {
	m.focus = (f + focusCount) % focusCount
	m.title.Blur()
	m.details.Blur()
	m.dueDate.Blur()
	switch m.focus {
	case focusTitle:
		return m.title.Focus()
	case focusDetails:
		return m.details.Focus()
	case focusDueDate:
		return m.dueDate.Focus()
	}
	return nil
}

func (m *Model) setStatus(msg string, isErr bool) {
	m.status, m.statusErr = msg, isErr
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.details.SetWidth(msg.Width - 8)
		m.list.SetSize(msg.Width-4, msg.Height-16)
		return m, nil

	case changedMsg:
		m.syncList()
		return m, m.waitForChange()

	case submittedMsg:
		if msg.outcome == ui.OutcomeFailed {
			m.setStatus("Could not save todo", true)
			return m, nil
		}
		m.loadFields(domain.TodoFields{})
		m.setStatus(msg.outcome.Message(), false)
		m.syncList()
		return m, m.setFocus(focusTitle)

	case deletedMsg:
		if !msg.ok {
			m.setStatus("Could not delete todo", true)
			return m, nil
		}
		m.setStatus("", false)
		m.syncList()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keyQuit):
			return m, tea.Quit
		case key.Matches(msg, keyNext):
			return m, m.setFocus(m.focus + 1)
		case key.Matches(msg, keyPrev):
			return m, m.setFocus(m.focus - 1)
		case key.Matches(msg, keySubmit):
			return m, m.submit()
		case key.Matches(msg, keyCancel):
			if m.ctrl.State().Mode == ui.ModeEdit {
				m.ctrl.CancelEdit()
				m.loadFields(domain.TodoFields{})
				m.setStatus("", false)
			}
			return m, nil
		}
		if m.focus == focusList {
			return m.updateList(msg)
		}
	}
	return m.updateInput(msg)
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	item, ok := m.list.SelectedItem().(listItem)
	switch {
	case key.Matches(msg, keyEdit) && ok:
		if m.ctrl.Edit(item.todo.ID) {
			m.loadFields(m.ctrl.State().Fields())
			m.setStatus("", false)
			return m, m.setFocus(focusTitle)
		}
		return m, nil
	case key.Matches(msg, keyDelete) && ok:
		return m, m.remove(item.todo.ID)
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focus {
	case focusTitle:
		m.title, cmd = m.title.Update(msg)
	case focusDetails:
		m.details, cmd = m.details.Update(msg)
	case focusDueDate:
		m.dueDate, cmd = m.dueDate.Update(msg)
	case focusList:
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m Model) View() string {
	heading, button := "Create a Todo", "ctrl+s: Create Todo"
	if m.ctrl.State().Mode == ui.ModeEdit {
		heading, button = "Update Your Todo", "ctrl+s: Update Todo"
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(heading),
		labelStyle.Render("Title"), m.title.View(),
		labelStyle.Render("Details"), m.details.View(),
		labelStyle.Render("Due Date"), m.dueDate.View(),
		helpStyle.Render(button),
	)
	formStyle, listStyle := panelStyle, panelStyle
	if m.focus == focusList {
		listStyle = focusedPanelStyle
	} else {
		formStyle = focusedPanelStyle
	}

	status := ""
	if m.status != "" {
		if m.statusErr {
			status = errorStyle.Render("✖ " + m.status)
		} else {
			status = successStyle.Render("✔ " + m.status)
		}
	}
	help := helpStyle.Render(strings.Join([]string{
		keyNext.Help().Key + " focus", keySubmit.Help().Key + " save", keyEdit.Help().Key + " edit",
		keyDelete.Help().Key + " delete", keyCancel.Help().Key + " cancel", keyQuit.Help().Key + " quit",
	}, " • "))

	inner := m.width - 4
	return lipgloss.JoinVertical(lipgloss.Left,
		formStyle.Width(inner).Render(form),
		listStyle.Width(inner).Render(m.list.View()),
		status,
		help,
	)
}
