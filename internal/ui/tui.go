package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/orchestrator"
	"github.com/desertthunder/aria/internal/shared"
)

const promptLimit = 300

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PromptView ViewState = iota
	HistoryView
)

// Submitter is the controller surface the TUI drives.
type Submitter interface {
	Start(ctx context.Context)
	Submit(ctx context.Context, prompt string) (*models.GenerationResult, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx       context.Context
	submitter Submitter
	open      func(string) error

	view    ViewState
	width   int
	height  int
	input   textinput.Model
	spinner spinner.Model
	history list.Model
	help    help.Model
	keys    keyMap

	label     string
	locked    bool
	overlay   string
	overlayOn bool
	state     orchestrator.State
	result    *models.GenerationResult
	alert     string
}

// NewModel creates a TUI model. Call [Model.Attach] before running it.
func NewModel(ctx context.Context) *Model {
	input := textinput.New()
	input.Placeholder = "lofi beats for studying"
	input.CharLimit = promptLimit
	input.Prompt = "♪ "
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = styles.overlay

	history := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	history.Title = "Generated playlists"
	history.SetShowHelp(false)

	return &Model{
		ctx:     ctx,
		open:    shared.OpenBrowser,
		view:    PromptView,
		input:   input,
		spinner: spin,
		history: history,
		help:    help.New(),
		keys:    newKeyMap(),
		label:   orchestrator.LabelDefault,
		state:   orchestrator.Idle,
	}
}

// Attach sets the controller the model submits prompts to.
func (m *Model) Attach(s Submitter) {
	m.submitter = s
}

// Init starts the cursor, the spinner and the controller.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.start())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(msg.Width-6, 20)
		m.history.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) {
			return m, tea.Quit
		}
		switch m.view {
		case PromptView:
			return m.handlePromptKeys(msg)
		case HistoryView:
			return m.handleHistoryKeys(msg)
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateInput(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgButton:
		d := msg.data.(buttonData)
		m.label = d.label
		m.locked = d.locked
		if m.locked {
			m.input.Blur()
			return m, nil
		}
		return m, m.input.Focus()

	case MsgOverlay:
		d := msg.data.(overlayData)
		m.overlay = d.message
		m.overlayOn = d.visible

	case MsgResult:
		result := msg.data.(models.GenerationResult)
		m.result = &result
		m.alert = ""
		return m, m.history.InsertItem(0, resultItem{result: result})

	case MsgClearPrompt:
		m.input.Reset()

	case MsgAlert:
		m.alert = msg.data.(string)

	case MsgState:
		m.state = msg.data.(orchestrator.State)

	case MsgSubmitted:
		d := msg.data.(submittedData)
		switch {
		case d.err == nil:
			m.input.Reset()
		case errors.Is(d.err, shared.ErrInvalidInput):
			m.alert = "Describe the playlist you want first."
		case errors.Is(d.err, orchestrator.ErrBusy):
			m.alert = d.err.Error()
		}

	case MsgOpened:
		if err, _ := msg.data.(error); err != nil {
			m.alert = fmt.Sprintf("Could not open the playlist: %v", err)
		}
	}
	return m, nil
}

func (m *Model) handlePromptKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.submit):
		if m.locked {
			return m, nil
		}
		m.alert = ""
		return m, m.submit(m.input.Value())
	case key.Matches(msg, m.keys.history):
		m.view = HistoryView
		return m, nil
	case key.Matches(msg, m.keys.open):
		if m.result != nil && m.result.HasLink() {
			return m, m.openURL(m.result.PlaylistURL)
		}
		return m, nil
	}
	return m.updateInput(msg)
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back), key.Matches(msg, m.keys.history):
		m.view = PromptView
		return m, nil
	case key.Matches(msg, m.keys.submit), key.Matches(msg, m.keys.open):
		if item, ok := m.history.SelectedItem().(resultItem); ok && item.result.HasLink() {
			return m, m.openURL(item.result.PlaylistURL)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg)
	return m, cmd
}

func (m *Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.locked {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) start() tea.Cmd {
	if m.submitter == nil {
		return nil
	}
	return func() tea.Msg {
		m.submitter.Start(m.ctx)
		return nil
	}
}

func (m *Model) submit(prompt string) tea.Cmd {
	if m.submitter == nil {
		return nil
	}
	return func() tea.Msg {
		result, err := m.submitter.Submit(m.ctx, prompt)
		return submittedMsg(result, err)
	}
}

func (m *Model) openURL(url string) tea.Cmd {
	return func() tea.Msg {
		return openedMsg(m.open(url))
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.view == HistoryView {
		helpKeys := []key.Binding{m.keys.open, m.keys.back, m.keys.quit}
		return fmt.Sprintf("%s\n\n%s", m.history.View(), m.help.ShortHelpView(helpKeys))
	}

	var b strings.Builder
	b.WriteString(styles.title.Render("Aria · prompt to playlist"))
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	if m.locked {
		b.WriteString(styles.locked.Render(m.label))
	} else {
		b.WriteString(styles.button.Render(m.label))
	}
	b.WriteString("\n")

	if m.overlayOn {
		fmt.Fprintf(&b, "\n%s %s\n", m.spinner.View(), styles.overlay.Render(m.overlay))
	}
	if m.alert != "" {
		fmt.Fprintf(&b, "\n%s\n", styles.warn.Render("! "+m.alert))
	}
	if m.result != nil {
		fmt.Fprintf(&b, "\n%s\n", renderCard(m.result))
	}

	helpKeys := []key.Binding{m.keys.submit, m.keys.history, m.keys.quit}
	if m.result != nil && m.result.HasLink() {
		helpKeys = []key.Binding{m.keys.submit, m.keys.open, m.keys.history, m.keys.quit}
	}
	fmt.Fprintf(&b, "\n%s", m.help.ShortHelpView(helpKeys))
	return b.String()
}
