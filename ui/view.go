package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"

	"github.com/dgnsrekt/narrate/internal/playback"
)

const ellipsis = "…"

func (m model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteRune('\n')
	b.WriteString(m.viewport.View())
	b.WriteRune('\n')
	b.WriteString(m.statusBarView())
	if m.prompting {
		b.WriteRune('\n')
		b.WriteString(m.prompt.View())
	}
	if m.err != nil {
		b.WriteRune('\n')
		b.WriteString(errorStyle.Render(truncate.StringWithTail(m.err.Error(), uint(max(m.width, 1)), ellipsis))) //nolint:gosec
	}
	b.WriteRune('\n')
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m model) headerView() string {
	ch := m.chapter()
	title := ch.Title
	if title == "" {
		title = "narrate"
	}
	header := titleStyle.Render(title)
	if m.cfg.Path != "" {
		header += " " + pathStyle.Render(m.cfg.Path)
	}
	return truncate.StringWithTail(header, uint(max(m.width, 1)), ellipsis) //nolint:gosec
}

// setSize fits the viewport between the header and the footer.
func (m *model) setSize() {
	footer := 1 + lipgloss.Height(m.help.View(keys))
	if m.prompting {
		footer++
	}
	if m.err != nil {
		footer++
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-footer-1, 1)
}

func (m model) wrapWidth() int {
	w := m.width - 4
	if m.cfg.MaxWidth > 0 && w > m.cfg.MaxWidth {
		w = m.cfg.MaxWidth
	}
	return max(w, 10)
}

// render lays the paragraphs out in the viewport, marking the active one,
// and scrolls it into view when it changed.
func (m *model) render() {
	if m.width == 0 {
		return
	}

	paragraphs := m.chapter().Paragraphs
	width := m.wrapWidth()
	m.offsets = m.offsets[:0]

	var (
		b    strings.Builder
		line int
	)
	for i, p := range paragraphs {
		text := wordwrap.String(p.Text, width)

		style := paragraphStyle
		if i == m.status.ActiveIndex {
			style = activeParagraphStyle
			if m.status.Err != nil {
				style = failedParagraphStyle
			}
		}
		block := style.Render(text)

		m.offsets = append(m.offsets, line)
		b.WriteString(block)
		b.WriteString("\n\n")
		line += lipgloss.Height(block) + 1
	}
	m.viewport.SetContent(b.String())

	active := m.status.ActiveIndex
	if active >= 0 && active < len(m.offsets) && active != m.lastTop {
		m.lastTop = active
		m.viewport.SetYOffset(max(m.offsets[active]-1, 0))
	}
}

func (m model) statusBarView() string {
	s := m.status

	var parts []string
	parts = append(parts, m.stateIcon())
	if s.Total > 0 && s.ActiveIndex >= 0 {
		parts = append(parts, fmt.Sprintf("¶ %d/%d", s.ActiveIndex+1, s.Total))
	}
	if s.Duration > 0 {
		parts = append(parts, fmt.Sprintf("%s/%s", formatDuration(s.Position), formatDuration(s.Duration)))
	}
	parts = append(parts, fmt.Sprintf("%gx", s.Speed), s.Voices.String())

	if m.cfg.ShowStats && m.stats != nil {
		st := m.stats()
		parts = append(parts, fmt.Sprintf("%d ready %d loading %d queued, store %s",
			st.Ready, st.Loading, st.Queue.CurrentSize, humanize.IBytes(uint64(max(st.Store.Size, 0)))))
	}

	note := " " + strings.Join(parts, " · ") + " "
	if m.statusMessage != "" {
		msg := statusBarMessageStyle.Render(" " + m.statusMessage + " ")
		note = truncate.StringWithTail(note, uint(max(m.width-lipgloss.Width(msg), 0)), ellipsis) //nolint:gosec
		return msg + statusBarStyle.Width(max(m.width-lipgloss.Width(msg), 0)).Render(note)
	}
	note = truncate.StringWithTail(note, uint(max(m.width, 0)), ellipsis) //nolint:gosec
	return statusBarStyle.Width(m.width).Render(note)
}

func (m model) stateIcon() string {
	switch m.status.State {
	case playback.Playing:
		return "▶"
	case playback.Paused:
		return "⏸"
	case playback.Loading:
		if m.status.PlayPending {
			return m.spinner.View() + "▶"
		}
		return m.spinner.View()
	case playback.Seeking:
		return "⟳"
	default:
		if m.status.Err != nil {
			return "✗"
		}
		return "■"
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "0:00"
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
