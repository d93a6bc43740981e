package harness

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/muesli/termenv"
)

// Reporter renders per-case results and the run summary.
type Reporter interface {
	Pass(cr CaseResult) error
	Fail(cr CaseResult) error
	Abort(name string, err error) error
	Summary(s Stats) error
}

// ConsoleReporter writes a human-readable report.
type ConsoleReporter struct {
	w       io.Writer
	pass    *color.Color
	fail    *color.Color
	label   *color.Color
	stream  lipgloss.Style
	summary lipgloss.Style
}

// NewConsoleReporter creates a reporter writing to w. Styling follows the
// color profile detected for w; noColor forces plain text.
func NewConsoleReporter(w io.Writer, noColor bool) *ConsoleReporter {
	r := &ConsoleReporter{
		w:     w,
		pass:  color.New(color.FgHiGreen),
		fail:  color.New(color.FgHiRed),
		label: color.New(color.Bold),
	}
	renderer := lipgloss.NewRenderer(w)
	r.stream = renderer.NewStyle().TabWidth(lipgloss.NoTabConversion)
	r.summary = renderer.NewStyle().TabWidth(lipgloss.NoTabConversion)

	plain := noColor || renderer.ColorProfile() == termenv.Ascii
	for _, c := range []*color.Color{r.pass, r.fail, r.label} {
		if plain {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	if plain {
		return r
	}
	r.stream = r.stream.Foreground(lipgloss.Color("12"))
	r.summary = r.summary.Bold(true)
	return r
}

// Pass prints the pass banner.
func (r *ConsoleReporter) Pass(cr CaseResult) error {
	return writef(r.w, "%s %s\n", r.pass.Sprint("[ OK ]"), cr.Name)
}

// Fail prints the fail banner, the accumulated diagnostic, the arguments and
// the expected, stdout and stderr streams.
func (r *ConsoleReporter) Fail(cr CaseResult) error {
	if err := writef(r.w, "%s %s\n", r.fail.Sprint("[ FAIL ]"), cr.Name); err != nil {
		return err
	}
	for _, f := range cr.Failures {
		msg := f.Message
		if f.Cause != nil {
			msg += ": " + f.Cause.Error()
		}
		if f.Offset >= 0 {
			msg += fmt.Sprintf(" (byte %d)", f.Offset)
		}
		if err := writef(r.w, "%s: %s\n", f.Class, msg); err != nil {
			return err
		}
	}
	if err := writef(r.w, "%s: %s\n", r.label.Sprint("Arguments"), strings.Join(cr.Args, " ")); err != nil {
		return err
	}
	for _, s := range []struct {
		label string
		text  string
	}{
		{"Expected output", cr.Expected},
		{"STDOUT", cr.Result.Stdout},
		{"STDERR", cr.Result.Stderr},
	} {
		if err := writef(r.w, "%s:\n%s\n", r.label.Sprint(s.label), r.renderStream(s.text)); err != nil {
			return err
		}
	}
	return nil
}

// Abort prints the reason the run stopped early.
func (r *ConsoleReporter) Abort(name string, err error) error {
	if werr := writef(r.w, "%s %s\n", r.fail.Sprint("[ FAIL ]"), name); werr != nil {
		return werr
	}
	return writef(r.w, "error invoking the program, aborting: %v\n", err)
}

// Summary prints the pass rate with two decimals and the raw ratio.
func (r *ConsoleReporter) Summary(s Stats) error {
	line := fmt.Sprintf("Pass rate: %.2f %% [%d / %d]", s.PassRate(), s.Passed, s.Total)
	return writef(r.w, "%s\n", r.summary.Render(line))
}

// renderStream styles text line by line so every line keeps its own width
// and whitespace.
func (r *ConsoleReporter) renderStream(text string) string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = r.stream.Render(line)
	}
	return strings.Join(lines, "\n")
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
