// Package output provides styled terminal output helpers (success, error,
// warning, cache entry and sync report formatting) using lipgloss.
package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"
	"github.com/marcus/offsync/internal/cache"
	"github.com/marcus/offsync/internal/errkind"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dirtyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	cleanStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	kindStyles   = map[errkind.Kind]lipgloss.Style{
		errkind.NotAvailable:              lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		errkind.ValidationFailed:          lipgloss.NewStyle().Foreground(lipgloss.Color("212")),
		errkind.AbortedDueToPreconditions: lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		errkind.InvalidServerResponse:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		errkind.Cancelled:                 lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		errkind.Rejected:                  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...interface{}) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...interface{}) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...interface{}) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...interface{}) {
	fmt.Println(fmt.Sprintf(format, args...))
}

// JSON outputs data as JSON
func JSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// Error codes for structured JSON output. Kind errors use the kind name.
const (
	ErrCodeNotFound     = "not_found"
	ErrCodeInvalidInput = "invalid_input"
	ErrCodeNotLoggedIn  = "not_logged_in"
	ErrCodeCacheError   = "cache_error"
	ErrCodeUnknown      = "unknown"
)

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{"error": map[string]string{"code": code, "message": message}})
	fmt.Println(string(data))
}

// ErrorCode returns the JSON error code of err: its kind name when it
// carries one.
func ErrorCode(err error) string {
	if k := errkind.Of(err); k != errkind.Unknown {
		return k.String()
	}
	return ErrCodeUnknown
}

// FormatKind renders the kind of err, e.g. "[not_available]". Errors
// without a kind render empty.
func FormatKind(err error) string {
	k := errkind.Of(err)
	if k == errkind.Unknown {
		return ""
	}
	label := fmt.Sprintf("[%s]", k)
	if style, ok := kindStyles[k]; ok {
		return style.Render(label)
	}
	return label
}

// KindError prints err with its kind label in front.
func KindError(err error) {
	var ke *errkind.Error
	msg := err.Error()
	if errors.As(err, &ke) && ke.Msg == "" && ke.Err != nil {
		msg = ke.Err.Error()
	}
	if label := FormatKind(err); label != "" {
		fmt.Println(label + " " + errorStyle.Render(msg))
		return
	}
	Error("%s", msg)
}

// FormatState formats the dirty/clean marker of an entry.
func FormatState(dirty bool) string {
	if dirty {
		return dirtyStyle.Render("[dirty]")
	}
	return cleanStyle.Render("[clean]")
}

// FormatEntryShort formats an entry in one line: key, state, size, age.
func FormatEntryShort(e *cache.Entry) string {
	parts := []string{
		titleStyle.Render(e.Collection + "/" + e.Key),
		FormatState(e.Dirty()),
		subtleStyle.Render(humanize.Bytes(uint64(len(e.Value)))),
	}
	if e.Synchronized != nil {
		parts = append(parts, subtleStyle.Render("synced "+FormatTimeAgo(*e.Synchronized)))
	} else if !e.UpdatedAt.IsZero() {
		parts = append(parts, subtleStyle.Render("changed "+FormatTimeAgo(e.UpdatedAt)))
	}
	return strings.Join(parts, "  ")
}

// FormatPending formats a pending entry as "collection/key".
func FormatPending(p cache.Pending) string {
	return fmt.Sprintf("%s %s", dirtyStyle.Render("●"), p.Collection+"/"+p.Key)
}

// FormatConflict formats one conflict log row.
func FormatConflict(c cache.Conflict) string {
	return fmt.Sprintf("%s  %s  %s  %s",
		subtleStyle.Render(c.RecordedAt.Format("2006-01-02 15:04:05")),
		titleStyle.Render(c.Collection+"/"+c.Key),
		warningStyle.Render(c.Resolution),
		subtleStyle.Render(Truncate(c.RemoteData, 60)))
}

// SyncSummary is the result of a sync pass, in the fields the CLI shows.
type SyncSummary struct {
	Count     int `json:"count"`
	Done      int `json:"done"`
	Failed    int `json:"failed"`
	Conflicts int `json:"conflicts"`
	Skipped   int `json:"skipped"`
}

// FormatSyncSummary formats a pass summary on one line.
func FormatSyncSummary(s SyncSummary) string {
	if s.Count == 0 {
		return successStyle.Render("nothing to sync")
	}
	parts := []string{fmt.Sprintf("%d pending", s.Count)}
	parts = append(parts, successStyle.Render(fmt.Sprintf("%d synced", s.Done)))
	if s.Failed > 0 {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d failed", s.Failed)))
	}
	if s.Conflicts > 0 {
		parts = append(parts, warningStyle.Render(fmt.Sprintf("%d conflicts", s.Conflicts)))
	}
	if s.Skipped > 0 {
		parts = append(parts, subtleStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	return strings.Join(parts, ", ")
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

// Truncate shortens s to max terminal cells, ending in "…" when cut.
// Escape sequences in s are kept and do not count toward max.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	return ansi.Truncate(s, max, "…")
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPENDING:\n"
func SectionHeader(title string) string {
	return fmt.Sprintf("\n%s:\n", strings.ToUpper(title))
}

// IndentString indents each line in a string by the specified number of spaces
func IndentString(s string, spaces int) string {
	if s == "" {
		return ""
	}
	indent := strings.Repeat(" ", spaces)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = indent + line
	}
	return strings.Join(lines, "\n")
}
