package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/orchestrator"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgButton MsgKind = iota
	MsgOverlay
	MsgResult
	MsgClearPrompt
	MsgAlert
	MsgState
	MsgSubmitted
	MsgOpened
)

type buttonData struct {
	label  string
	locked bool
}

type overlayData struct {
	message string
	visible bool
}

type submittedData struct {
	result *models.GenerationResult
	err    error
}

// buttonMsg is the constructor for [MsgButton]
func buttonMsg(label string, locked bool) Msg {
	return Msg{kind: MsgButton, data: buttonData{label: label, locked: locked}}
}

// overlayMsg is the constructor for [MsgOverlay]
func overlayMsg(message string, visible bool) Msg {
	return Msg{kind: MsgOverlay, data: overlayData{message: message, visible: visible}}
}

// resultMsg is the constructor for [MsgResult]
func resultMsg(result models.GenerationResult) Msg {
	return Msg{kind: MsgResult, data: result}
}

// clearPromptMsg is the constructor for [MsgClearPrompt]
func clearPromptMsg() Msg {
	return Msg{kind: MsgClearPrompt}
}

// alertMsg is the constructor for [MsgAlert]
func alertMsg(message string) Msg {
	return Msg{kind: MsgAlert, data: message}
}

// stateMsg is the constructor for [MsgState]
func stateMsg(state orchestrator.State) Msg {
	return Msg{kind: MsgState, data: state}
}

// submittedMsg is the constructor for [MsgSubmitted]
func submittedMsg(result *models.GenerationResult, err error) Msg {
	return Msg{kind: MsgSubmitted, data: submittedData{result: result, err: err}}
}

// openedMsg is the constructor for [MsgOpened]
func openedMsg(err error) Msg {
	return Msg{kind: MsgOpened, data: err}
}
