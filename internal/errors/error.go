package errors

import (
	"bufio"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig Category = "config"
	CategoryEntry  Category = "entry"
	CategoryBuild  Category = "build"
	CategoryDev    Category = "dev"
	CategoryRPC    Category = "rpc"
	CategoryCLI    Category = "cli"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// PhotonError is a structured error with an optional source location and a fix hint.
type PhotonError struct {
	// Code is a unique error identifier (e.g., "P100").
	Code string

	// Category is the error type (config, entry, ...).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source code location where the error occurred.
	Location *Location

	// Context holds the source lines around Location.
	Context      []string
	contextFirst int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// DocURL is a link to documentation about this error.
	DocURL string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PhotonError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PhotonError) Unwrap() error {
	return e.Wrapped
}

// WithLocation points the error at a source position and keeps a few
// lines around it for display.
func (e *PhotonError) WithLocation(file string, line, column int) *PhotonError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.contextFirst = sourceLines(file, line, 2)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *PhotonError) WithSuggestion(s string) *PhotonError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *PhotonError) WithDetail(d string) *PhotonError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *PhotonError) Wrap(err error) *PhotonError {
	e.Wrapped = err
	return e
}

// sourceLines returns up to radius lines on each side of line, and the
// number of the first returned line.
func sourceLines(file string, line, radius int) ([]string, int) {
	f, err := os.Open(file)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	first := max(line-radius, 1)
	last := line + radius
	var lines []string
	sc := bufio.NewScanner(f)
	for n := 1; sc.Scan() && n <= last; n++ {
		if n >= first {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) == 0 {
		return nil, 0
	}
	return lines, first
}

// New creates a PhotonError from a registered error code.
func New(code string) *PhotonError {
	template, ok := registry[code]
	if !ok {
		return &PhotonError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PhotonError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
		DocURL:   DocURL(code),
	}
}

// Newf creates a new PhotonError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *PhotonError {
	return &PhotonError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// HasCode reports whether err is, or wraps, a PhotonError with the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		if pe, ok := err.(*PhotonError); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
