package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/routeworks/fleetpilot/internal/markup"
	"github.com/routeworks/fleetpilot/internal/models"
)

// Theme holds the color scheme for the chat display.
type Theme struct {
	User      lipgloss.Color
	Assistant lipgloss.Color
	Pending   lipgloss.Color
	Location  lipgloss.Color
	Notice    lipgloss.Color
	Hint      lipgloss.Color
	TableLine lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	User:      lipgloss.Color("#5FAFD7"), // light blue
	Assistant: lipgloss.Color("#00D787"), // green
	Pending:   lipgloss.Color("#6C6C6C"), // dim gray
	Location:  lipgloss.Color("#FFAF00"), // amber
	Notice:    lipgloss.Color("#FF005F"), // red
	Hint:      lipgloss.Color("#6C6C6C"), // dim gray
	TableLine: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

func (t Theme) assistantStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Assistant).Bold(true)
}

func (t Theme) pendingStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Pending).Italic(true)
}

func (t Theme) locationStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Location)
}

func (t Theme) noticeStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Notice).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) tableLineStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.TableLine)
}

// renderMessage renders one confirmed or provisional message, body parsed
// for location and table markers.
func (t Theme) renderMessage(msg models.Message) string {
	var b strings.Builder

	switch {
	case msg.Provisional():
		b.WriteString(t.pendingStyle().Render("you (sending)"))
	case msg.Role == models.RoleUser:
		b.WriteString(t.userStyle().Render("you"))
	default:
		b.WriteString(t.assistantStyle().Render("assistant"))
	}
	b.WriteString("\n")
	b.WriteString(t.renderBody(msg.Content))
	b.WriteString("\n")

	return b.String()
}

// renderBody renders message content with markers replaced by their
// terminal representation.
func (t Theme) renderBody(content string) string {
	var b strings.Builder
	for _, seg := range markup.Parse(content) {
		switch seg.Kind {
		case markup.SegmentLocation:
			label := seg.Label
			if label == "" {
				label = "location"
			}
			b.WriteString(t.locationStyle().Render(
				fmt.Sprintf("⌖ %s (%.5f, %.5f)", label, seg.Lat, seg.Lon)))
		case markup.SegmentTable:
			b.WriteString(t.renderTable(seg.Rows))
		default:
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

// renderTable renders rows as aligned columns, header first.
func (t Theme) renderTable(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	// Column widths over all rows.
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	for r, row := range rows {
		b.WriteString("\n  ")
		for i, cell := range row {
			b.WriteString(cell)
			if i < len(row)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+2))
			}
		}
		if r == 0 {
			total := 0
			for _, w := range widths {
				total += w + 2
			}
			b.WriteString("\n  ")
			b.WriteString(t.tableLineStyle().Render(strings.Repeat("─", total)))
		}
	}
	b.WriteString("\n")
	return b.String()
}
