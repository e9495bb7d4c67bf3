package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/pipeline"
	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

var authorLabels = map[conversation.Author]string{
	conversation.AuthorHuman:    "You",
	conversation.AuthorPM:       "PM",
	conversation.AuthorEngineer: "Engineer",
	conversation.AuthorQA:       "QA",
}

var authorColors = map[conversation.Author]string{
	conversation.AuthorHuman:    ansiBold,
	conversation.AuthorPM:       ansiCyan,
	conversation.AuthorEngineer: ansiGreen,
	conversation.AuthorQA:       ansiYellow,
}

// printer renders transcripts, with color only on a terminal.
type printer struct {
	out   io.Writer
	color bool
	width int
}

func newPrinter(out io.Writer) *printer {
	p := &printer{out: out, width: 72}
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return p
	}
	p.color = os.Getenv("NO_COLOR") == ""
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
		p.width = min(w, 100)
	}
	return p
}

func (p *printer) paint(code, s string) string {
	if !p.color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func (p *printer) rule() {
	fmt.Fprintln(p.out, p.paint(ansiGray, strings.Repeat("-", p.width)))
}

func (p *printer) header(taskID string, variant conversation.Variant) {
	fmt.Fprintf(p.out, "%s %s\n", p.paint(ansiBold, "Task "+taskID), p.paint(ansiGray, "("+string(variant)+")"))
	p.rule()
}

func (p *printer) message(m conversation.Message) {
	label := authorLabels[m.Author]
	if label == "" {
		label = string(m.Author)
	}
	color := authorColors[m.Author]
	if strings.HasPrefix(m.Content, pipeline.SystemErrorPrefix) {
		color = ansiRed
	}

	head := p.paint(color, "["+label+"]")
	if m.Kind != "" {
		head += " " + p.paint(ansiGray, string(m.Kind))
	}
	if m.TargetAuthor != "" {
		head += " " + p.paint(ansiGray, "-> @"+string(m.TargetAuthor))
	}
	fmt.Fprintln(p.out, head)
	fmt.Fprintln(p.out, strings.TrimRight(m.Content, "\n"))
	fmt.Fprintln(p.out)
}

func (p *printer) notice(s string) {
	fmt.Fprintln(p.out, p.paint(ansiYellow, "! "+s))
}

func (p *printer) footer(status conversation.Status, messages int) {
	p.rule()
	color := ansiGreen
	if status == conversation.StatusFailed {
		color = ansiRed
	}
	fmt.Fprintf(p.out, "%s after %d message(s)\n", p.paint(color, string(status)), messages)
}
