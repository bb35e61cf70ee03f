package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/firepwn/firepwn/pkg/oplog"
)

// renderer prints log entries, coloring each by class and highlighting the
// JSON fragments inside entry bodies.
type renderer struct {
	mu sync.Mutex
	w  io.Writer

	color   bool
	stamp   lipgloss.Style
	json    lipgloss.Style
	classes map[oplog.Class]lipgloss.Style
}

func newRenderer(w io.Writer, color bool) *renderer {
	return &renderer{
		w:     w,
		color: color,
		stamp: lipgloss.NewStyle().Faint(true),
		json:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		classes: map[oplog.Class]lipgloss.Style{
			oplog.ClassInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
			oplog.ClassSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			oplog.ClassError:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
	}
}

// Entry writes one entry. It is safe to call from any goroutine.
func (r *renderer) Entry(e oplog.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, r.format(e))
}

// Errorf writes a console-local message that is not part of the log.
func (r *renderer) Errorf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	if r.color {
		msg = r.classes[oplog.ClassError].Render(msg)
	}
	fmt.Fprintln(r.w, msg)
}

// Println writes plain text.
func (r *renderer) Println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, s)
}

func (r *renderer) format(e oplog.Entry) string {
	prefix := "[" + e.Timestamp + "] "
	if !r.color {
		return prefix + e.Body
	}

	style := r.classes[e.Class]
	var b strings.Builder
	b.WriteString(r.stamp.Render(prefix))
	for _, part := range oplog.Split(e.Body) {
		if part.JSON {
			b.WriteString(r.renderLines(r.json, part.Text))
			continue
		}
		b.WriteString(r.renderLines(style, part.Text))
	}
	return b.String()
}

// renderLines styles each line separately so newlines survive padding.
func (r *renderer) renderLines(style lipgloss.Style, text string) string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = style.Render(l)
		}
	}
	return strings.Join(lines, "\n")
}
