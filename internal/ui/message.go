package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/nbx/internal/models"
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
	MsgJobEvent MsgKind = iota
	MsgStreamClosed
	MsgActionResult
)

// jobEventMsg is the constructor for [MsgJobEvent]
func jobEventMsg(ev models.JobEvent) Msg {
	return Msg{kind: MsgJobEvent, data: ev}
}

// streamClosedMsg is the constructor for [MsgStreamClosed]
func streamClosedMsg(err error) Msg {
	return Msg{kind: MsgStreamClosed, data: err}
}

// actionResult reports the outcome of a key-triggered job operation.
type actionResult struct {
	text string
	err  error
}

// actionResultMsg is the constructor for [MsgActionResult]
func actionResultMsg(text string, err error) Msg {
	return Msg{kind: MsgActionResult, data: actionResult{text, err}}
}
