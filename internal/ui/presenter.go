package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/aria/internal/formatter"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/orchestrator"
)

var (
	_ orchestrator.Presenter = (*Console)(nil)
	_ orchestrator.Presenter = (*ProgramPresenter)(nil)
)

// Console renders controller events as lines on a terminal.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	label   string
	locked  bool
	overlay string
	alerts  []string
	result  *models.GenerationResult
}

// NewConsole creates a [Console] writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, label: orchestrator.LabelDefault}
}

func (c *Console) LockButton(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = true
	c.setLabel(label)
}

func (c *Console) SetButtonLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLabel(label)
}

func (c *Console) UnlockButton(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = false
	c.label = label
}

// setLabel prints label while the button is locked, since it then tells the user what to do.
func (c *Console) setLabel(label string) {
	if label == c.label {
		return
	}
	c.label = label
	if c.locked && label != c.overlay {
		fmt.Fprintln(c.out, styles.help.Render(label))
	}
}

func (c *Console) ShowOverlay(message string) {
	c.SetOverlayMessage(message)
}

func (c *Console) SetOverlayMessage(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if message == c.overlay {
		return
	}
	c.overlay = message
	fmt.Fprintln(c.out, styles.overlay.Render("♪ "+message))
}

func (c *Console) HideOverlay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overlay = ""
}

func (c *Console) ShowResult(result models.GenerationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.result = &result
	fmt.Fprintln(c.out, renderCard(&result))
}

func (c *Console) ClearPrompt() {}

func (c *Console) Alert(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, message)
	fmt.Fprintln(c.out, styles.warn.Render("! "+message))
}

func (c *Console) StateChanged(state orchestrator.State) {}

// Alerts returns every alert shown so far.
func (c *Console) Alerts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.alerts...)
}

// Label returns the current button label and whether the button is locked.
func (c *Console) Label() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label, c.locked
}

// ProgramPresenter forwards controller events to a running bubbletea program.
type ProgramPresenter struct {
	send func(tea.Msg)
}

// NewProgramPresenter creates a [ProgramPresenter]. Pass [tea.Program.Send].
func NewProgramPresenter(send func(tea.Msg)) *ProgramPresenter {
	return &ProgramPresenter{send: send}
}

func (p *ProgramPresenter) LockButton(label string)           { p.send(buttonMsg(label, true)) }
func (p *ProgramPresenter) SetButtonLabel(label string)       { p.send(buttonMsg(label, true)) }
func (p *ProgramPresenter) UnlockButton(label string)         { p.send(buttonMsg(label, false)) }
func (p *ProgramPresenter) ShowOverlay(message string)        { p.send(overlayMsg(message, true)) }
func (p *ProgramPresenter) SetOverlayMessage(msg string)      { p.send(overlayMsg(msg, true)) }
func (p *ProgramPresenter) HideOverlay()                      { p.send(overlayMsg("", false)) }
func (p *ProgramPresenter) ClearPrompt()                      { p.send(clearPromptMsg()) }
func (p *ProgramPresenter) Alert(message string)              { p.send(alertMsg(message)) }
func (p *ProgramPresenter) StateChanged(s orchestrator.State) { p.send(stateMsg(s)) }

func (p *ProgramPresenter) ShowResult(result models.GenerationResult) {
	p.send(resultMsg(result))
}

// renderCard draws the result card.
func renderCard(result *models.GenerationResult) string {
	text, err := formatter.ToText(result)
	if err != nil {
		return styles.err.Render(err.Error())
	}
	lines := strings.Split(strings.TrimRight(string(text), "\n"), "\n")
	lines[0] = styles.ok.Render("✓ " + lines[0])
	return styles.card.Render(strings.Join(lines, "\n"))
}
