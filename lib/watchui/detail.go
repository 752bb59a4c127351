// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/fleetglass/fleetglass/agentapi"
	"github.com/fleetglass/fleetglass/world"
)

// detailHeaderLines is the fixed header height of the detail pane:
// title, location, status, context, separator. The header stays pinned
// while the transcript below it scrolls.
const detailHeaderLines = 5

// contextGaugeWidth is the cell width of the context usage bar.
const contextGaugeWidth = 10

// DetailPane renders one session: a pinned header with identity,
// status, and context usage, above a scrolling transcript of the
// session's recent messages. The transcript lives in a viewport so
// arrow and page keys scroll it when the pane has focus.
type DetailPane struct {
	theme    Theme
	width    int
	height   int
	focused  bool
	viewport viewport.Model

	session  *world.EnrichedSession
	instance *world.Instance
	now      time.Time
	header   []string
}

func NewDetailPane(theme Theme) DetailPane {
	return DetailPane{
		theme:    theme,
		viewport: viewport.New(0, 0),
	}
}

// contentWidth is the width available to header and transcript lines:
// the pane width minus the left padding column and the scrollbar
// column.
func (pane *DetailPane) contentWidth() int {
	width := pane.width - 2
	if width < 1 {
		width = 1
	}
	return width
}

// SetSize resizes the pane. A width change re-renders the stored
// session so wrapped text reflows; the scroll offset is re-clamped
// rather than reset so resizing does not lose the reading position.
func (pane *DetailPane) SetSize(width, height int) {
	widthChanged := width != pane.width
	pane.width = width
	pane.height = height

	bodyHeight := height - detailHeaderLines
	if bodyHeight < 0 {
		bodyHeight = 0
	}
	pane.viewport.Width = pane.contentWidth()
	pane.viewport.Height = bodyHeight

	if widthChanged && pane.session != nil {
		pane.render()
	}
	pane.viewport.SetYOffset(pane.viewport.YOffset)
}

func (pane *DetailPane) SetFocused(focused bool) {
	pane.focused = focused
}

// ShowSession replaces the pane's content. Re-showing the session that
// is already displayed keeps the scroll offset so a refresh under the
// reader's feet does not yank the transcript back to the top; showing
// a different session starts at the top.
func (pane *DetailPane) ShowSession(session *world.EnrichedSession, instance *world.Instance, now time.Time) {
	samePane := session != nil && pane.session != nil && session.Info.ID == pane.session.Info.ID
	pane.session = session
	pane.instance = instance
	pane.now = now

	if session == nil {
		pane.header = nil
		pane.viewport.SetContent("")
		return
	}

	pane.render()
	if samePane {
		pane.viewport.SetYOffset(pane.viewport.YOffset)
	} else {
		pane.viewport.GotoTop()
	}
}

// Update forwards scroll keys to the viewport. The caller routes
// messages here only while the detail pane has focus.
func (pane *DetailPane) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	pane.viewport, cmd = pane.viewport.Update(msg)
	return cmd
}

func (pane *DetailPane) View() string {
	if pane.session == nil {
		empty := lipgloss.NewStyle().Foreground(pane.theme.FaintText).Render("no session selected")
		return lipgloss.Place(pane.width, pane.height, lipgloss.Center, lipgloss.Center, empty)
	}

	contentWidth := pane.contentWidth()
	rows := make([]string, 0, pane.height)

	// Header rows get a blank scrollbar cell so the bar visually
	// belongs to the transcript only.
	for _, line := range pane.header {
		rows = append(rows, " "+padLine(line, contentWidth)+" ")
	}

	bodyHeight := pane.viewport.Height
	scrollbar := strings.Split(renderScrollbar(
		pane.theme,
		bodyHeight,
		pane.viewport.TotalLineCount(),
		bodyHeight,
		pane.viewport.YOffset,
		pane.focused,
	), "\n")

	bodyLines := strings.Split(pane.viewport.View(), "\n")
	for row := 0; row < bodyHeight; row++ {
		var line string
		if row < len(bodyLines) {
			line = bodyLines[row]
		}
		cell := " "
		if row < len(scrollbar) {
			cell = scrollbar[row]
		}
		rows = append(rows, " "+padLine(line, contentWidth)+cell)
	}

	return strings.Join(rows, "\n")
}

// render rebuilds the header lines and the viewport transcript from
// the stored session.
func (pane *DetailPane) render() {
	pane.header = pane.renderHeader()
	pane.viewport.SetContent(pane.renderTranscript())
}

func (pane *DetailPane) renderHeader() []string {
	session := pane.session
	width := pane.contentWidth()
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	title := session.Info.Title
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(pane.theme.HeaderForeground)
	if title == "" {
		title = "(untitled)"
		titleStyle = lipgloss.NewStyle().Bold(true).Foreground(pane.theme.FaintText)
	}
	titleLine := titleStyle.Render(title) + "  " + faint.Render(session.Info.ID)

	location := session.Info.Directory
	if location == "" {
		location = "-"
	}
	locationLine := faint.Render(location)
	if pane.instance != nil {
		locationLine += faint.Render("  @ " + pane.instance.DisplayName())
	}

	separator := lipgloss.NewStyle().
		Foreground(pane.theme.BorderColor).
		Render(strings.Repeat("─", width))

	lines := []string{
		ansi.Truncate(titleLine, width, "…"),
		ansi.Truncate(locationLine, width, "…"),
		ansi.Truncate(pane.renderStatusLine(), width, "…"),
		ansi.Truncate(pane.renderContextLine(), width, "…"),
		separator,
	}
	return lines
}

// renderStatusLine summarizes execution state: the state itself, retry
// details while the server backs off, error details on failure, and
// how long ago the session last moved.
func (pane *DetailPane) renderStatusLine() string {
	session := pane.session
	state := session.Status.State
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	stateStyle := lipgloss.NewStyle().Foreground(pane.theme.SessionColor(state))
	parts := []string{stateStyle.Render(sessionGlyph(state) + " " + string(state))}

	if session.Status.RetryAttempt > 0 && state == world.SessionRunning {
		retry := fmt.Sprintf("retry %d", session.Status.RetryAttempt)
		if session.Status.RetryNextAt > 0 {
			wait := time.UnixMilli(session.Status.RetryNextAt).Sub(pane.now)
			if wait > 0 {
				retry += " in " + formatElapsed(wait)
			}
		}
		if session.Status.RetryMessage != "" {
			retry += ": " + session.Status.RetryMessage
		}
		parts = append(parts, faint.Render(retry))
	}

	if state == world.SessionError && session.Status.Err != nil {
		errStyle := lipgloss.NewStyle().Foreground(pane.theme.SessionError)
		detail := session.Status.Err.Name
		if session.Status.Err.Message != "" {
			detail += ": " + session.Status.Err.Message
		}
		parts = append(parts, errStyle.Render(detail))
	}

	parts = append(parts, faint.Render("active "+formatAge(pane.now, session.LastActivityAt)))
	return strings.Join(parts, "  ")
}

// renderContextLine shows the context window gauge when token
// accounting is known, plus a compaction indicator while the server is
// summarizing history.
func (pane *DetailPane) renderContextLine() string {
	session := pane.session
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	var line string
	if usage := session.Context; usage != nil {
		filled := usage.Percent * contextGaugeWidth / 100
		if filled < 0 {
			filled = 0
		}
		if filled > contextGaugeWidth {
			filled = contextGaugeWidth
		}
		bar := strings.Repeat("█", filled) + strings.Repeat("░", contextGaugeWidth-filled)
		gaugeStyle := lipgloss.NewStyle().Foreground(pane.theme.GaugeColor(usage.Percent))
		line = gaugeStyle.Render(bar) +
			faint.Render(fmt.Sprintf(" %d%% context (%s/%s tokens)",
				usage.Percent, formatTokens(usage.Used), formatTokens(usage.Usable)))
	} else {
		line = faint.Render("context usage unknown")
	}

	if session.Compaction != nil && session.Compaction.InProgress {
		compacting := lipgloss.NewStyle().Foreground(pane.theme.SessionRunning)
		line += compacting.Render("  compacting…")
	}
	return line
}

// renderTranscript renders the session's messages oldest-first: a role
// line per message, then each part in its own visual form. Text parts
// go through the markdown renderer; structural parts (step markers,
// snapshots) are skipped.
func (pane *DetailPane) renderTranscript() string {
	session := pane.session
	width := pane.contentWidth()
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	if len(session.Messages) == 0 {
		return faint.Render("no messages yet")
	}

	var out strings.Builder
	for index, message := range session.Messages {
		if index > 0 {
			out.WriteString("\n")
		}
		out.WriteString(pane.renderMessageHeader(message))
		out.WriteString("\n")

		for _, part := range message.Parts {
			rendered := pane.renderPart(part, width)
			if rendered == "" {
				continue
			}
			out.WriteString(rendered)
			if !strings.HasSuffix(rendered, "\n") {
				out.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(out.String(), "\n")
}

func (pane *DetailPane) renderMessageHeader(message world.MessageView) string {
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	roleColor := pane.theme.RoleAssistant
	if message.Info.Role == agentapi.RoleUser {
		roleColor = pane.theme.RoleUser
	}
	roleStyle := lipgloss.NewStyle().Bold(true).Foreground(roleColor)

	label := message.Info.Role
	if message.Info.Agent == agentapi.AgentCompaction {
		label += " · compaction"
	} else if message.Info.Agent != "" {
		label += " · " + message.Info.Agent
	}

	line := roleStyle.Render(label)
	line += faint.Render("  " + formatAge(pane.now, message.Info.Time.Created))
	if message.Streaming {
		streaming := lipgloss.NewStyle().Foreground(pane.theme.SessionRunning)
		line += streaming.Render("  streaming…")
	}
	return line
}

func (pane *DetailPane) renderPart(part agentapi.Part, width int) string {
	faint := lipgloss.NewStyle().Foreground(pane.theme.FaintText)

	switch part.Type {
	case agentapi.PartText:
		return renderMarkdown(part.Text, pane.theme, width)

	case agentapi.PartReasoning:
		if part.Text == "" {
			return ""
		}
		wrapped := ansi.Wrap(part.Text, width, " ,.;-+|")
		return lipgloss.NewStyle().Italic(true).Foreground(pane.theme.FaintText).Render(wrapped)

	case agentapi.PartTool:
		return pane.renderToolPart(part)

	case agentapi.PartFile:
		label := "⎘ " + part.Filename
		if part.Mime != "" {
			label += " (" + part.Mime + ")"
		}
		return faint.Render(label)

	case agentapi.PartPatch:
		label := fmt.Sprintf("± patch, %d file(s)", len(part.Files))
		if part.Hash != "" {
			label += " " + shortHash(part.Hash)
		}
		return faint.Render(label)

	case agentapi.PartRetry:
		return faint.Render(fmt.Sprintf("↻ retry attempt %d", part.Attempt))

	case agentapi.PartAgent:
		if part.Name == "" {
			return ""
		}
		return faint.Render("↳ agent " + part.Name)

	default:
		// Step markers, snapshots, compaction markers, and unknown
		// part kinds carry no transcript content.
		return ""
	}
}

func (pane *DetailPane) renderToolPart(part agentapi.Part) string {
	title := part.Tool
	status := ""
	errDetail := ""
	if part.State != nil {
		if part.State.Title != "" {
			title = part.State.Title
		}
		status = part.State.Status
		errDetail = part.State.Error
	}
	if title == "" {
		title = "tool"
	}

	statusColor := pane.theme.FaintText
	switch status {
	case "running", "pending":
		statusColor = pane.theme.SessionRunning
	case "error":
		statusColor = pane.theme.SessionError
	}

	line := lipgloss.NewStyle().Foreground(statusColor).Render("⚙ ") +
		lipgloss.NewStyle().Foreground(pane.theme.NormalText).Render(title)
	if status != "" {
		line += lipgloss.NewStyle().Foreground(statusColor).Render(" (" + status + ")")
	}
	if errDetail != "" {
		errStyle := lipgloss.NewStyle().Foreground(pane.theme.SessionError)
		line += "\n" + errStyle.Render("  "+errDetail)
	}
	return line
}

// padLine pads or truncates a styled line to exactly width visible
// cells so the scrollbar column stays aligned at the right edge.
func padLine(line string, width int) string {
	visible := lipgloss.Width(line)
	if visible > width {
		return ansi.Truncate(line, width, "…")
	}
	return line + strings.Repeat(" ", width-visible)
}

// formatTokens renders a token count compactly: 512, 84k, 1.2M.
func formatTokens(count int64) string {
	switch {
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(count)/1_000_000)
	case count >= 1_000:
		return fmt.Sprintf("%dk", count/1_000)
	default:
		return strconv.FormatInt(count, 10)
	}
}

// shortHash truncates a revision hash for display.
func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
