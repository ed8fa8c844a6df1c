package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/netrunner/regfeed/internal/ir"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (name not found, broken chain, rejected append)
	ExitCommandError = 2 // Command error (bad config, unreadable database or feed)
)

// Error codes reported in CLIError.Code.
const (
	CodeConfig   = "E100" // configuration could not be loaded or is invalid
	CodeOpen     = "E101" // registry or feed could not be opened
	CodeBadArgs  = "E102" // malformed command arguments
	CodeNotFound = "E200" // name is not registered
	CodeNoWriter = "E201" // no writable feed
	CodeAppend   = "E202" // writer feed rejected the entry
	CodeProbe    = "E203" // a feed failed to become ready
	CodeVerify   = "E300" // feed chain verification failed
	CodeInternal = "E900"
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data as a JSON response, or text for the text format.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if text == "" {
		return nil
	}
	_, err := fmt.Fprintln(f.Writer, strings.TrimRight(text, "\n"))
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns an ExitError
// carrying exitCode.
func (f *OutputFormatter) Fail(exitCode int, code, message string, err error) error {
	var details any
	if err != nil {
		details = err.Error()
	}
	_ = f.Error(code, message, details)
	return WrapExitError(exitCode, message, err)
}

// EntryView is the JSON form of a registry entry.
type EntryView struct {
	Name      string      `json:"name"`
	Seq       int64       `json:"seq"`
	Author    ir.FeedID   `json:"author"`
	Tombstone bool        `json:"tombstone,omitempty"`
	Value     ir.IRObject `json:"value,omitempty"`
	Hash      string      `json:"hash"`
}

func viewEntry(e ir.Entry) EntryView {
	return EntryView{
		Name:      e.Name,
		Seq:       e.Seq,
		Author:    e.Author,
		Tombstone: e.Tombstone,
		Value:     e.Value,
		Hash:      ir.MustEntryHash(e),
	}
}

// formatEntry renders e as "name seq@author value" on one line.
func formatEntry(e ir.Entry) string {
	if e.Tombstone {
		return fmt.Sprintf("%s\t%s\t(removed)", e.Name, e.Version())
	}
	data, err := ir.MarshalCanonical(e.Value)
	if err != nil || len(e.Value) == 0 {
		data = []byte("{}")
	}
	return fmt.Sprintf("%s\t%s\t%s", e.Name, e.Version(), data)
}

func formatEntries(entries []ir.Entry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = formatEntry(e)
	}
	return strings.Join(lines, "\n")
}

// formatCounts renders a map of counters as sorted "key=value" pairs.
func formatCounts(counts map[string]int64) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
