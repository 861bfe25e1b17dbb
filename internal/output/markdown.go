package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/marcus/offsync/internal/cache"
	"golang.org/x/term"
)

const (
	defaultMarkdownWidth = 80
	minMarkdownWidth     = 20
	maxPreviewBytes      = 4096
)

// TerminalWidth returns the current terminal width or a fallback when unavailable.
func TerminalWidth(fallback int) int {
	if fallback <= 0 {
		fallback = defaultMarkdownWidth
	}

	if width, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && width > 0 {
		return width
	}

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if parsed, err := strconv.Atoi(cols); err == nil && parsed > 0 {
			return parsed
		}
	}

	return fallback
}

// RenderMarkdown renders markdown using Glamour with terminal-aware wrapping.
func RenderMarkdown(text string) (string, error) {
	return RenderMarkdownWithWidth(text, TerminalWidth(defaultMarkdownWidth))
}

// RenderMarkdownWithWidth renders markdown using Glamour with explicit wrapping.
func RenderMarkdownWithWidth(text string, width int) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if width < minMarkdownWidth {
		width = minMarkdownWidth
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", err
	}

	rendered, err := renderer.Render(text)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(rendered, "\n"), nil
}

// EntryMarkdown describes a cache entry as markdown: metadata, attributes
// and a preview of the value. JSON values are pretty-printed; binary values
// are summarised by size.
func EntryMarkdown(e *cache.Entry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s / %s\n\n", e.Collection, e.Key)

	state := "clean"
	if e.Dirty() {
		state = "**dirty**, waiting for sync"
	}
	fmt.Fprintf(&sb, "- State: %s\n", state)
	if e.Synchronized != nil {
		fmt.Fprintf(&sb, "- Synchronized: %s (%s)\n", e.Synchronized.Format("2006-01-02 15:04:05"), humanize.Time(*e.Synchronized))
	}
	if !e.UpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "- Updated: %s\n", humanize.Time(e.UpdatedAt))
	}
	fmt.Fprintf(&sb, "- Size: %s\n", humanize.Bytes(uint64(len(e.Value))))

	if len(e.Attributes) > 0 {
		sb.WriteString("\n## Attributes\n\n| name | value |\n|---|---|\n")
		names := make([]string, 0, len(e.Attributes))
		for k := range e.Attributes {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			v, _ := json.Marshal(e.Attributes[k])
			fmt.Fprintf(&sb, "| %s | `%s` |\n", k, Truncate(string(v), 80))
		}
	}

	sb.WriteString("\n## Value\n\n")
	switch {
	case len(e.Value) == 0:
		sb.WriteString("_empty_\n")
	case json.Valid(e.Value):
		var buf bytes.Buffer
		if err := json.Indent(&buf, e.Value, "", "  "); err != nil {
			buf.Reset()
			buf.Write(e.Value)
		}
		fmt.Fprintf(&sb, "```json\n%s\n```\n", truncateBytes(buf.String()))
	case utf8.Valid(e.Value):
		fmt.Fprintf(&sb, "```\n%s\n```\n", truncateBytes(string(e.Value)))
	default:
		fmt.Fprintf(&sb, "_binary, %s_\n", humanize.Bytes(uint64(len(e.Value))))
	}
	return sb.String()
}

func truncateBytes(s string) string {
	if len(s) <= maxPreviewBytes {
		return s
	}
	return s[:maxPreviewBytes] + "\n…"
}
