package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/ShayCichocki/teamlead/pkg/models"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ECDC4"))
	sectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).MarginTop(1)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	runningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC857"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("28"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	permStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8E53"))
)

func lipglossHeight(s string) int {
	return lipgloss.Height(s)
}

func (d *Dashboard) headerView() string {
	n := len(d.state.sessions)
	title := titleStyle.Render("teamlead")
	summary := dimStyle.Render(fmt.Sprintf(" %d %s · $%.2f spent · %d waiting for approval",
		n, plural(n, "session", "sessions"), d.state.totalCost(), len(d.state.permissions)))
	return title + summary
}

func (d *Dashboard) footerView() string {
	hint := "q quit · ↑/↓ scroll"
	if d.closed {
		hint = "event stream closed · " + hint
	}
	return hintStyle.Render(hint)
}

func (d *Dashboard) bodyView() string {
	var b strings.Builder

	rows := d.state.sortedSessions()
	if len(rows) == 0 {
		b.WriteString(dimStyle.Italic(true).Render("No sessions yet."))
		b.WriteString("\n")
	}
	for _, r := range rows {
		b.WriteString(d.sessionView(r))
		b.WriteString("\n")
	}

	if perms := d.state.sortedPermissions(); len(perms) > 0 {
		b.WriteString(sectionStyle.Render("Pending approvals"))
		b.WriteString("\n")
		for _, p := range perms {
			kind := "tool"
			if p.IsQuestion() {
				kind = "question"
			}
			fmt.Fprintf(&b, "  %s %s %s %s\n",
				permStyle.Render("?"), p.ToolName, dimStyle.Render("("+kind+")"), dimStyle.Render(shortID(p.RequestID)))
		}
	}

	if len(d.state.messages) > 0 {
		b.WriteString(sectionStyle.Render("Recent messages"))
		b.WriteString("\n")
		for _, m := range d.state.messages {
			to := m.message.Recipient
			if m.message.Type == models.MessageBroadcast {
				to = "everyone"
			}
			fmt.Fprintf(&b, "  %s → %s %s\n", m.message.Sender, to, dimStyle.Render(truncate(m.message.Content, 60)))
		}
	}
	return b.String()
}

func (d *Dashboard) sessionView(r *sessionRow) string {
	var b strings.Builder
	s := r.session

	done, total := r.taskProgress()
	fmt.Fprintf(&b, "%s %s %s  $%.2f  %s tok",
		d.statusIcon(s.Status),
		lipgloss.NewStyle().Bold(true).Render(truncate(s.Name, 50)),
		statusStyle(s.Status).Render(string(s.Status)),
		s.CostUSD,
		humanize.Comma(s.InputTokens+s.OutputTokens))
	if total > 0 {
		fmt.Fprintf(&b, "  tasks %d/%d", done, total)
	}
	if !s.CreatedAt.IsZero() {
		b.WriteString(dimStyle.Render("  " + humanize.Time(s.CreatedAt)))
	}
	b.WriteString("\n")

	for _, t := range r.sortedTeammates() {
		fmt.Fprintf(&b, "    %s %s\n", teammateStyle(t.Status).Render(string(t.Status)), t.DisplayName())
	}
	if r.lastError != "" {
		fmt.Fprintf(&b, "    %s\n", errorStyle.Render(truncate(r.lastError, 80)))
	}
	return b.String()
}

func (d *Dashboard) statusIcon(status models.SessionStatus) string {
	switch status {
	case models.SessionStarting, models.SessionRunning:
		return d.spinner.View()
	case models.SessionCompleted:
		return completedStyle.Render("✓")
	case models.SessionError:
		return errorStyle.Render("✗")
	default:
		return " "
	}
}

func statusStyle(status models.SessionStatus) lipgloss.Style {
	switch status {
	case models.SessionStarting, models.SessionRunning:
		return runningStyle
	case models.SessionCompleted:
		return completedStyle
	case models.SessionError:
		return errorStyle
	default:
		return dimStyle
	}
}

func teammateStyle(status models.TeammateStatus) lipgloss.Style {
	switch status {
	case models.TeammateWorking, models.TeammateStarting:
		return runningStyle
	case models.TeammateIdle:
		return dimStyle
	default:
		return completedStyle
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
