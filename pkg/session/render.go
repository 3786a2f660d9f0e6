package session

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dpdb-go/dpdb/pkg/snapshot"
)

const valueDisplayLimit = 60

// styles holds the per-session lipgloss styles, bound to the output's
// renderer so color is dropped on non-terminal writers.
type styles struct {
	err       lipgloss.Style
	warn      lipgloss.Style
	success   lipgloss.Style
	info      lipgloss.Style
	highlight lipgloss.Style
	file      lipgloss.Style
	lineNo    lipgloss.Style
	function  lipgloss.Style
	dim       lipgloss.Style
	panel     lipgloss.Style
	border    lipgloss.Style
}

func newStyles(r *lipgloss.Renderer, t Theme) styles {
	return styles{
		err:       r.NewStyle().Foreground(t.Error),
		warn:      r.NewStyle().Foreground(t.Warning),
		success:   r.NewStyle().Foreground(t.Success),
		info:      r.NewStyle().Foreground(t.Info),
		highlight: r.NewStyle().Foreground(t.Highlight),
		file:      r.NewStyle().Foreground(t.FileName),
		lineNo:    r.NewStyle().Foreground(t.LineNo),
		function:  r.NewStyle().Foreground(t.Function),
		dim:       r.NewStyle().Faint(true),
		panel:     r.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Border).Padding(0, 1),
		border:    r.NewStyle().Foreground(t.Border),
	}
}

// newTable starts a bordered table in the session's palette.
func (st styles) newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(st.border).
		Headers(headers...)
}

// frameHeading renders the one-line "file:line in function()" summary.
func (st styles) frameHeading(f *snapshot.FrameRecord) string {
	return fmt.Sprintf("%s:%s in %s()",
		st.file.Render(filepath.Base(f.File)),
		st.lineNo.Render(fmt.Sprintf("%d", f.Line)),
		st.function.Render(f.Function))
}

// writeContext renders a context window with line numbers and an arrow on
// the current line.
func writeContext(w io.Writer, st styles, ctx []string, start, current int) {
	for i, line := range ctx {
		no := start + i
		if no == current {
			fmt.Fprintf(w, "%s %s  %s\n",
				st.highlight.Render("→"), st.lineNo.Render(fmt.Sprintf("%4d", no)), line)
			continue
		}
		fmt.Fprintf(w, "  %s  %s\n", st.lineNo.Render(fmt.Sprintf("%4d", no)), line)
	}
}

// truncateValue shortens long rendered values for table display.
func truncateValue(s string) string {
	if len(s) > valueDisplayLimit {
		return s[:valueDisplayLimit-3] + "..."
	}
	return s
}

// bindingsTable renders a Name/Type/Value table for a bindings projection.
func bindingsTable(st styles, title string, bs snapshot.Bindings) string {
	t := st.newTable("Name", "Type", "Value")
	for _, b := range bs {
		t.Row(b.Name, b.Value.TypeName(), truncateValue(b.Value.String()))
	}
	return st.info.Render(title) + "\n" + t.Render()
}

// panel renders a bordered panel with a title line above it.
func panel(st styles, title, content string) string {
	var sb strings.Builder
	sb.WriteString(st.info.Render(title))
	sb.WriteString("\n")
	sb.WriteString(st.panel.Render(content))
	return sb.String()
}
