package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// printer writes command results either as styled text or as JSON.
type printer struct {
	w    io.Writer
	json bool

	key   lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	title lipgloss.Style
}

func newPrinter(w io.Writer, asJSON, noColor bool) *printer {
	r := lipgloss.NewRenderer(w)
	p := &printer{
		w:     w,
		json:  asJSON,
		key:   r.NewStyle(),
		ok:    r.NewStyle(),
		warn:  r.NewStyle(),
		title: r.NewStyle(),
	}
	if !noColor {
		p.key = p.key.Foreground(lipgloss.Color("99"))
		p.ok = p.ok.Foreground(lipgloss.Color("10")).Bold(true)
		p.warn = p.warn.Foreground(lipgloss.Color("9")).Bold(true)
		p.title = p.title.Foreground(lipgloss.Color("205")).Bold(true)
	}
	return p
}

// value prints v as JSON, or calls text otherwise.
func (p *printer) value(v any, text func()) error {
	if p.json {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text()
	return nil
}

// message prints a one-line status. JSON mode wraps it in an object.
func (p *printer) message(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return p.value(map[string]string{"message": msg}, func() {
		fmt.Fprintln(p.w, p.ok.Render(msg))
	})
}

func (p *printer) heading(s string) {
	fmt.Fprintln(p.w, p.title.Render(s))
}

// fields prints aligned key/value pairs, skipping empty values.
func (p *printer) fields(pairs ...string) {
	width := 0
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] != "" {
			width = max(width, len(pairs[i]))
		}
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		label := fmt.Sprintf("%-*s", width+1, pairs[i]+":")
		fmt.Fprintf(p.w, "%s %s\n", p.key.Render(label), pairs[i+1])
	}
}

func (p *printer) table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(p.w, p.warn.Render("nothing to show"))
		return
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(p.key).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(p.w, t.Render())
}

func money(v float64) string {
	return "$" + strconv.FormatFloat(v, 'f', 2, 64)
}

func idString(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
