// Package ui renders the submission controller in a terminal.
//
// Two [orchestrator.Presenter] implementations live here:
//   - [Console] prints overlay messages, alerts and the result card as lines, for the one-shot commands
//   - [ProgramPresenter] forwards the same events as [Msg] values to a bubbletea program
//
// The interactive [Model] follows bubbletea's Init/Update/View pattern. The prompt box stands in for the
// page's form: enter submits, the button label and loading overlay track the controller, and alerts
// replace browser dialogs. Controller calls run inside [tea.Cmd] functions so Update never blocks.
//
// A [PromptView] and a [HistoryView] (a bubbles list of playlists generated this session) are
// toggled with tab. Help is displayed via charmbracelet/bubbles/help.
package ui
