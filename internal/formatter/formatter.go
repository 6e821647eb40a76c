// package formatter renders generation results as plain text, Markdown or JSON
package formatter

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/desertthunder/aria/internal/models"
	"github.com/desertthunder/aria/internal/shared"
)

// Format names accepted by [Render].
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

const untitled = "Your playlist is ready"

// Formats lists the supported output formats.
func Formats() []string {
	return []string{FormatText, FormatMarkdown, FormatJSON}
}

// ToText converts a GenerationResult to plain text
func ToText(result *models.GenerationResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no result", shared.ErrInvalidInput)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Playlist: %s\n", name(result))
	if result.HasLink() {
		fmt.Fprintf(&buf, "Link: %s\n", result.PlaylistURL)
	}
	if result.Summary != "" {
		fmt.Fprintf(&buf, "\n%s\n", strings.TrimSpace(result.Summary))
	}
	return buf.Bytes(), nil
}

// ToMarkdown converts a GenerationResult to Markdown, linking the title when a URL is present
func ToMarkdown(result *models.GenerationResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no result", shared.ErrInvalidInput)
	}

	var buf bytes.Buffer
	if result.HasLink() {
		fmt.Fprintf(&buf, "# [%s](%s)\n", escapeMarkdown(name(result)), result.PlaylistURL)
	} else {
		fmt.Fprintf(&buf, "# %s\n", escapeMarkdown(name(result)))
	}
	if result.Summary != "" {
		fmt.Fprintf(&buf, "\n%s\n", strings.TrimSpace(result.Summary))
	}
	return buf.Bytes(), nil
}

// ToJSON converts a GenerationResult to indented JSON
func ToJSON(result *models.GenerationResult) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("%w: no result", shared.ErrInvalidInput)
	}
	data, err := shared.MarshalJSON(result, true)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Render converts result using the named format.
func Render(result *models.GenerationResult, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", FormatText, "txt":
		return ToText(result)
	case FormatMarkdown, "md":
		return ToMarkdown(result)
	case FormatJSON:
		return ToJSON(result)
	default:
		return nil, fmt.Errorf("%w: unknown format %q (want one of %s)", shared.ErrInvalidArgument, format, strings.Join(Formats(), ", "))
	}
}

// WriteResult renders result and writes it to path.
func WriteResult(result *models.GenerationResult, format, path string) error {
	data, err := Render(result, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write result file: %w", err)
	}
	return nil
}

// Status describes an initialisation payload in one line per field.
func Status(init *models.InitPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Spotify: %s\n", connection(init.Connected))
	if init.PendingPrompt != "" {
		fmt.Fprintf(&b, "Pending prompt: %q\n", init.PendingPrompt)
	} else {
		b.WriteString("Pending prompt: none\n")
	}
	if init.Result != nil {
		fmt.Fprintf(&b, "Last result: %s\n", name(init.Result))
	}
	return b.String()
}

func connection(ok bool) string {
	if ok {
		return "connected"
	}
	return "not connected"
}

func name(result *models.GenerationResult) string {
	if n := strings.TrimSpace(result.PlaylistName); n != "" {
		return n
	}
	return untitled
}

var markdownEscaper = strings.NewReplacer(`[`, `\[`, `]`, `\]`, `*`, `\*`, `_`, `\_`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
