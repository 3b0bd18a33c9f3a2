package events

import (
	"fmt"
	"strings"

	"github.com/khaledhikmat/vs-inspect/model"
)

const attachmentMarker = " | attachment="

// FormatLine renders an entry as one events.log line (without the newline):
// [HH:MM:SS] [LEVEL] TITLE: MESSAGE | attachment=URL
func FormatLine(entry model.LogEntry) string {
	line := fmt.Sprintf("[%s] [%s] %s: %s", entry.Time, strings.ToUpper(string(entry.Severity)), entry.Title, entry.Message)
	if entry.Attachment != "" {
		line += attachmentMarker + entry.Attachment
	}
	return line
}

// ParseLine is the inverse of FormatLine. Content without a title separator
// is attributed to "System".
func ParseLine(line string) (model.LogEntry, bool) {
	// Only the line break is trimmed: an empty message leaves "TITLE: " behind
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), "] ", 3)
	if len(parts) < 3 || !strings.HasPrefix(parts[0], "[") || !strings.HasPrefix(parts[1], "[") {
		return model.LogEntry{}, false
	}

	entry := model.LogEntry{
		Time:     strings.TrimPrefix(parts[0], "["),
		Severity: model.ParseSeverity(strings.TrimPrefix(parts[1], "[")),
		Title:    "System",
	}

	content := parts[2]
	if body, attachment, ok := strings.Cut(content, attachmentMarker); ok {
		content = body
		entry.Attachment = strings.TrimSpace(attachment)
	}

	if title, message, ok := strings.Cut(content, ": "); ok {
		entry.Title = title
		entry.Message = message
	} else {
		entry.Message = content
	}

	return entry, true
}

// sanitize keeps a field on a single line
func sanitize(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s))
}

// messageField keeps a message from being read back as an attachment
func messageField(s string) string {
	return strings.ReplaceAll(sanitize(s), attachmentMarker, " | attachment: ")
}

// titleField keeps a title from being split at the title separator.
// An empty title is recorded as "System", which is what a titleless line parses to.
func titleField(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(messageField(s), ": ", " - "))
	if s == "" {
		return "System"
	}
	return s
}
