package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/aria/internal/models"
)

var _ list.Item = resultItem{}

// resultItem wraps [models.GenerationResult] to implement [list.Item].
type resultItem struct {
	result models.GenerationResult
}

func (i resultItem) FilterValue() string { return i.result.PlaylistName }
func (i resultItem) Title() string       { return i.result.PlaylistName }
func (i resultItem) Description() string {
	if i.result.Summary != "" {
		return i.result.Summary
	}
	return i.result.PlaylistURL
}
