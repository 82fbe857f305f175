package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

// Style controls how errors are rendered for a terminal.
type Style struct {
	Color bool
}

// StyleFor enables colors when w is a terminal and NO_COLOR is unset.
func StyleFor(w io.Writer) Style {
	if os.Getenv("NO_COLOR") != "" {
		return Style{}
	}
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return Style{}
	}
	return Style{Color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())}
}

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiBlue  = "\033[34m"
	ansiGray  = "\033[90m"
)

func (s Style) paint(code, text string) string {
	if !s.Color || text == "" {
		return text
	}
	return code + text + ansiReset
}

// detailWidth is where long details are wrapped.
const detailWidth = 72

// Format renders e without colors.
func (e *PhotonError) Format() string {
	return e.Render(Style{})
}

// Render renders e as a multi-line block:
//
//	error[P103]: Server entry is not usable
//	  --> src/server.ts:3:1
//	   |
//	 3 | export const x = 1
//	   | ^
//	  = hint: Add export default
//	  = docs: https://photon.dev/docs/errors/P103
func (e *PhotonError) Render(st Style) string {
	var b strings.Builder

	head := "error"
	if e.Code != "" {
		head += "[" + e.Code + "]"
	}
	b.WriteString(st.paint(ansiRed+ansiBold, head))
	b.WriteString(st.paint(ansiBold, ": "+e.Message))
	b.WriteByte('\n')

	if e.Location != nil {
		b.WriteString("  ")
		b.WriteString(st.paint(ansiBlue, "-->"))
		b.WriteString(" ")
		b.WriteString(st.paint(ansiCyan, e.Location.String()))
		b.WriteByte('\n')
		e.renderSnippet(&b, st)
	}

	for _, line := range wrap(e.Detail, detailWidth) {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteByte('\n')
	}

	note := func(label, text string) {
		if text == "" {
			return
		}
		b.WriteString("  ")
		b.WriteString(st.paint(ansiBlue, "= "+label+":"))
		b.WriteString(" ")
		b.WriteString(text)
		b.WriteByte('\n')
	}
	note("hint", e.Suggestion)
	if e.Wrapped != nil {
		note("caused by", e.Wrapped.Error())
	}
	if e.DocURL != "" {
		note("docs", st.paint(ansiGray, e.DocURL))
	}
	return b.String()
}

// renderSnippet prints the source lines around the location with a
// caret under the reported column.
func (e *PhotonError) renderSnippet(b *strings.Builder, st Style) {
	if len(e.Context) == 0 {
		return
	}
	first := e.contextFirst
	if first < 1 {
		first = 1
	}
	width := len(strconv.Itoa(first + len(e.Context) - 1))
	gutter := func(label string) string {
		return st.paint(ansiBlue, fmt.Sprintf(" %*s |", width, label))
	}

	b.WriteString(gutter(""))
	b.WriteByte('\n')
	for i, line := range e.Context {
		n := first + i
		b.WriteString(gutter(strconv.Itoa(n)))
		b.WriteString(" ")
		b.WriteString(line)
		b.WriteByte('\n')
		if n == e.Location.Line && e.Location.Column > 0 {
			b.WriteString(gutter(""))
			b.WriteString(" ")
			b.WriteString(strings.Repeat(" ", e.Location.Column-1))
			b.WriteString(st.paint(ansiRed+ansiBold, "^"))
			b.WriteByte('\n')
		}
	}
}

// wrap breaks text into lines of at most width runes, on spaces.
func wrap(text string, width int) []string {
	var lines []string
	line := ""
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > width:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

type jsonLocation struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

type jsonError struct {
	Code       string        `json:"code,omitempty"`
	Category   Category      `json:"category,omitempty"`
	Message    string        `json:"message"`
	Detail     string        `json:"detail,omitempty"`
	Location   *jsonLocation `json:"location,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	DocURL     string        `json:"docUrl,omitempty"`
	Cause      string        `json:"cause,omitempty"`
}

// MarshalJSON implements json.Marshaler for machine readable output.
func (e *PhotonError) MarshalJSON() ([]byte, error) {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Suggestion: e.Suggestion,
		DocURL:     e.DocURL,
	}
	if e.Location != nil {
		out.Location = &jsonLocation{File: e.Location.File, Line: e.Location.Line, Column: e.Location.Column}
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	return json.Marshal(out)
}

// Fprint writes err to w, rendering coded errors as a block.
func Fprint(w io.Writer, err error) {
	if err == nil {
		return
	}
	var pe *PhotonError
	if stderrors.As(err, &pe) {
		fmt.Fprint(w, pe.Render(StyleFor(w)))
		return
	}
	st := StyleFor(w)
	fmt.Fprintf(w, "%s %v\n", st.paint(ansiRed+ansiBold, "error:"), err)
}

// FprintJSON writes err to w as one JSON object per line.
func FprintJSON(w io.Writer, err error) {
	if err == nil {
		return
	}
	var v any = jsonError{Message: err.Error()}
	var pe *PhotonError
	if stderrors.As(err, &pe) {
		v = pe
	}
	_ = json.NewEncoder(w).Encode(v)
}
