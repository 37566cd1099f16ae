// Package errors provides diagnostic formatting for errors raised while
// compiling or running a program: source context, line/column information,
// and a caret pointing at the offending position.
package errors

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/lumen-lang/lumen/internal/ast"
)

// Kind classifies a CompilerError by the phase that raised it, so callers
// (the CLI, test harnesses) can decide how to react without string-matching
// the message.
type Kind int

const (
	KindCompile Kind = iota
	KindRuntime
	KindSnapshot
)

func (k Kind) String() string {
	switch k {
	case KindCompile:
		return "compile error"
	case KindRuntime:
		return "runtime error"
	case KindSnapshot:
		return "snapshot error"
	default:
		return "error"
	}
}

var (
	boldStyle = color.New(color.Bold)
	dimStyle  = color.New(color.Faint)
	caretStyle = color.New(color.FgRed, color.Bold)
)

// CompilerError represents a single error with position and source context.
type CompilerError struct {
	Kind    Kind
	Phase   string
	Message string
	Source  string
	File    string
	Pos     ast.Position
}

// NewCompilerError creates a new compiler error.
func NewCompilerError(pos ast.Position, message, source, file string) *CompilerError {
	return &CompilerError{
		Pos:     pos,
		Message: message,
		Source:  source,
		File:    file,
	}
}

// Error implements the error interface.
func (e *CompilerError) Error() string {
	return e.Format(false)
}

func (e *CompilerError) header() string {
	if e.File != "" {
		return fmt.Sprintf("Error in %s:%d:%d\n", e.File, e.Pos.Line, e.Pos.Column)
	}
	return fmt.Sprintf("Error at line %d:%d\n", e.Pos.Line, e.Pos.Column)
}

func sprint(useColor bool, style *color.Color, s string) string {
	if !useColor {
		return s
	}
	return style.Sprint(s)
}

// Format formats the error message with source context.
// If useColor is true, terminal color codes are applied via fatih/color.
func (e *CompilerError) Format(useColor bool) string {
	var sb strings.Builder

	sb.WriteString(e.header())

	sourceLine := e.getSourceLine(e.Pos.Line)
	if sourceLine != "" {
		lineNumStr := fmt.Sprintf("%4d | ", e.Pos.Line)
		sb.WriteString(lineNumStr)
		sb.WriteString(sourceLine)
		sb.WriteString("\n")

		sb.WriteString(strings.Repeat(" ", len(lineNumStr)+e.Pos.Column-1))
		sb.WriteString(sprint(useColor, caretStyle, "^"))
		sb.WriteString("\n")
	}

	sb.WriteString(sprint(useColor, boldStyle, e.Message))

	return sb.String()
}

// getSourceLine extracts a specific line from the source code. 1-indexed.
func (e *CompilerError) getSourceLine(lineNum int) string {
	if e.Source == "" {
		return ""
	}

	lines := strings.Split(e.Source, "\n")
	if lineNum < 1 || lineNum > len(lines) {
		return ""
	}

	return lines[lineNum-1]
}

// getSourceContext extracts lines from (lineNum - contextBefore) to
// (lineNum + contextAfter), clamped to the source's line range.
func (e *CompilerError) getSourceContext(lineNum, contextBefore, contextAfter int) []string {
	if e.Source == "" {
		return nil
	}

	lines := strings.Split(e.Source, "\n")
	if lineNum < 1 || lineNum > len(lines) {
		return nil
	}

	start := lineNum - contextBefore
	if start < 1 {
		start = 1
	}

	end := lineNum + contextAfter
	if end > len(lines) {
		end = len(lines)
	}

	return lines[start-1 : end]
}

// FormatWithContext formats the error with surrounding source context.
func (e *CompilerError) FormatWithContext(contextLines int, useColor bool) string {
	var sb strings.Builder

	sb.WriteString(e.header())

	contextLinesList := e.getSourceContext(e.Pos.Line, contextLines, contextLines)
	if len(contextLinesList) == 0 {
		return e.Format(useColor)
	}

	startLine := e.Pos.Line - contextLines
	if startLine < 1 {
		startLine = 1
	}

	for i, line := range contextLinesList {
		currentLine := startLine + i
		lineNumStr := fmt.Sprintf("%4d | ", currentLine)

		if currentLine == e.Pos.Line {
			sb.WriteString(sprint(useColor, boldStyle, lineNumStr+line))
			sb.WriteString("\n")
			sb.WriteString(strings.Repeat(" ", len(lineNumStr)+e.Pos.Column-1))
			sb.WriteString(sprint(useColor, caretStyle, "^"))
			sb.WriteString("\n")
		} else {
			sb.WriteString(sprint(useColor, dimStyle, lineNumStr+line))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\n")
	sb.WriteString(sprint(useColor, boldStyle, e.Message))

	return sb.String()
}

// FormatErrors formats multiple errors, each with single-line source context.
func FormatErrors(errs []*CompilerError, useColor bool) string {
	if len(errs) == 0 {
		return ""
	}

	if len(errs) == 1 {
		return errs[0].Format(useColor)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Compilation failed with %d error(s):\n\n", len(errs)))

	for i, err := range errs {
		sb.WriteString(fmt.Sprintf("[Error %d of %d]\n", i+1, len(errs)))
		sb.WriteString(err.Format(useColor))
		if i < len(errs)-1 {
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

// FormatErrorsWithContext formats multiple errors with surrounding source context.
func FormatErrorsWithContext(errs []*CompilerError, contextLines int, useColor bool) string {
	if len(errs) == 0 {
		return ""
	}

	if len(errs) == 1 {
		return errs[0].FormatWithContext(contextLines, useColor)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Compilation failed with %d error(s):\n\n", len(errs)))

	for i, err := range errs {
		sb.WriteString(fmt.Sprintf("[Error %d of %d]\n", i+1, len(errs)))
		sb.WriteString(err.FormatWithContext(contextLines, useColor))
		if i < len(errs)-1 {
			sb.WriteString("\n\n")
		}
	}

	return sb.String()
}

// FromStringErrors converts plain error messages into CompilerErrors,
// extracting a "... at LINE:COLUMN" position suffix when present.
func FromStringErrors(stringErrors []string, kind Kind, source, file string) []*CompilerError {
	result := make([]*CompilerError, 0, len(stringErrors))

	for _, errStr := range stringErrors {
		pos, message := parseErrorString(errStr)
		ce := NewCompilerError(pos, message, source, file)
		ce.Kind = kind
		result = append(result, ce)
	}

	return result
}

// parseErrorString extracts a "LINE:COLUMN" suffix introduced by " at ",
// falling back to position-less if the string doesn't carry one.
func parseErrorString(errStr string) (ast.Position, string) {
	atIndex := strings.LastIndex(errStr, " at ")
	if atIndex == -1 {
		return ast.Position{Line: 0, Column: 0}, errStr
	}

	posStr := errStr[atIndex+4:]
	message := strings.TrimSpace(errStr[:atIndex])

	var line, column int
	_, err := fmt.Sscanf(posStr, "%d:%d", &line, &column)
	if err != nil {
		return ast.Position{Line: 0, Column: 0}, errStr
	}

	return ast.Position{Line: line, Column: column}, message
}
