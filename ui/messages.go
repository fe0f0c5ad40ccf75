package ui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/narrate/internal/playback"
)

const statusMessageTimeout = 3 * time.Second

// statusMsg carries a controller status update.
type statusMsg playback.Status

// statusClosedMsg reports that the controller stopped publishing.
type statusClosedMsg struct{}

// reloadMsg reports a chapter reload after the file changed on disk.
type reloadMsg struct{ err error }

// voicesMsg carries voices resolved from the voice prompt.
type voicesMsg struct{ narrator, dialogue string }

type statusMessageTimeoutMsg struct{}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

// waitForStatus blocks until the next status arrives on ch.
func waitForStatus(ch <-chan playback.Status) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return statusClosedMsg{}
		}
		return statusMsg(s)
	}
}

func waitForStatusMessageTimeout(t *time.Timer) tea.Cmd {
	return func() tea.Msg {
		<-t.C
		return statusMessageTimeoutMsg{}
	}
}

// run calls fn off the update loop and reports its error, if any.
func run(fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return errMsg{err}
		}
		return nil
	}
}
