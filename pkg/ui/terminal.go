// Package ui renders command output for terminals. Colors are emitted only
// when the destination is a terminal and NO_COLOR is unset.
package ui

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ASCII logo for the application
const ASCIILogo = `
 ╦  ╦╦╔═╔═╗╔═╗╦═╗╔═╗╔╗
 ║  ║╠╩╗║╣ ║ ╦╠╦╝╠═╣╠╩╗
 ╩═╝╩╩ ╩╚═╝╚═╝╩╚═╩ ╩╚═╝
  liked posts, resolved and fetched
`

const (
	cyan    = "\033[36m"
	yellow  = "\033[33m"
	red     = "\033[31m"
	green   = "\033[32m"
	magenta = "\033[35m"
	dim     = "\033[2m"
	reset   = "\033[0m"
)

// Printer writes status lines to w
type Printer struct {
	w     io.Writer
	color bool
	quiet bool
}

// NewPrinter creates a printer. Colors are disabled by noColor, by the
// NO_COLOR environment variable, or when w is not a terminal.
func NewPrinter(w io.Writer, noColor bool) *Printer {
	return &Printer{
		w:     w,
		color: !noColor && os.Getenv("NO_COLOR") == "" && isTerminal(w),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// SetQuiet suppresses everything except errors and reports
func (p *Printer) SetQuiet(quiet bool) {
	p.quiet = quiet
}

func (p *Printer) paint(code, text string) string {
	if !p.color {
		return text
	}
	return code + text + reset
}

// Cyan colors text cyan
func (p *Printer) Cyan(text string) string { return p.paint(cyan, text) }

// Yellow colors text yellow
func (p *Printer) Yellow(text string) string { return p.paint(yellow, text) }

// Red colors text red
func (p *Printer) Red(text string) string { return p.paint(red, text) }

// Green colors text green
func (p *Printer) Green(text string) string { return p.paint(green, text) }

// Magenta colors text magenta
func (p *Printer) Magenta(text string) string { return p.paint(magenta, text) }

// Dim dims text
func (p *Printer) Dim(text string) string { return p.paint(dim, text) }

// Logo prints the ASCII logo
func (p *Printer) Logo() {
	if p.quiet {
		return
	}
	fmt.Fprint(p.w, p.Cyan(ASCIILogo))
}

// Error prints msg in red, followed by err when it is not nil
func (p *Printer) Error(msg string, err error) {
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	fmt.Fprintln(p.w, p.Red(msg))
}

// Success prints a message in green
func (p *Printer) Success(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, p.Green(msg))
}

// Info prints a label and value
func (p *Printer) Info(label, value string) {
	if p.quiet {
		return
	}
	fmt.Fprintf(p.w, "%s: %s\n", p.Cyan(label), p.Yellow(value))
}

// Warning prints a message in yellow
func (p *Printer) Warning(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, p.Yellow(msg))
}

// Highlight prints a message in magenta
func (p *Printer) Highlight(msg string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.w, p.Magenta(msg))
}
