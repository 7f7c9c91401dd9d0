package hotctx

import (
	"fmt"
	"strings"
	"time"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
)

// FormatSystemPrompt converts a [HotContext] into a system prompt string
// suitable for direct injection into the response LLM call.
//
// name and persona come from the character definition; traits are the
// relationship-unlocked trait names active for this user.
//
// The formatter is pure: it performs no I/O, has no side effects, and is safe
// for concurrent use. Empty sections are omitted entirely rather than
// rendering as empty headers.
func FormatSystemPrompt(hctx *HotContext, name, persona string, traits []string) string {
	var sb strings.Builder

	p := strings.TrimSpace(persona)
	if p != "" {
		fmt.Fprintf(&sb, "You are %s. %s", name, p)
	} else {
		fmt.Fprintf(&sb, "You are %s.", name)
	}

	if hctx == nil {
		return sb.String()
	}

	if section := formatRelationshipSection(hctx, traits); section != "" {
		sb.WriteString("\n\n## Your Relationship With Them\n")
		sb.WriteString(section)
	}

	if len(hctx.Facts) > 0 {
		sb.WriteString("\n\n## What You Know About Them\n")
		sb.WriteString(formatEntryLines(hctx.Facts, false))
	}

	if len(hctx.Memories) > 0 {
		sb.WriteString("\n\n## Memories This Brings Up\n")
		sb.WriteString(formatMemoriesSection(hctx.Memories))
	}

	if len(hctx.Summaries) > 0 {
		sb.WriteString("\n\n## Earlier Conversations\n")
		sb.WriteString(formatEntryLines(hctx.Summaries, false))
	}

	if len(hctx.Gossip) > 0 {
		sb.WriteString("\n\n## Heard From Other Characters\n")
		sb.WriteString(formatGossipSection(hctx.Gossip))
	}

	if len(hctx.History) > 0 {
		sb.WriteString("\n\n## Recent Conversation\n")
		sb.WriteString(formatHistorySection(hctx.History, name, speakerName(hctx)))
	}

	return sb.String()
}

// speakerName returns what the user should be called in the transcript.
func speakerName(hctx *HotContext) string {
	if hctx.Nickname != "" {
		return hctx.Nickname
	}
	return "them"
}

// formatRelationshipSection renders the trust stage, unlocked traits, and the
// preferred nickname instruction.
func formatRelationshipSection(hctx *HotContext, traits []string) string {
	var lines []string

	if rel := hctx.Relationship; rel != nil {
		lines = append(lines, fmt.Sprintf("Stage: %s", rel.Stage()))
	}
	if len(traits) > 0 {
		lines = append(lines, fmt.Sprintf("You can be: %s", strings.Join(traits, ", ")))
	}
	if hctx.Nickname != "" {
		lines = append(lines, fmt.Sprintf("They like to be called %s.", hctx.Nickname))
	}

	return strings.Join(lines, "\n")
}

// formatMemoriesSection renders retrieval hits with relative timestamps,
// strongest first (the retrieval pipeline already ordered them).
func formatMemoriesSection(hits []memory.ScoredMemory) string {
	now := time.Now()
	var lines []string
	for _, h := range hits {
		line := fmt.Sprintf("- [%s] %s", formatRelativeTime(now.Sub(h.Timestamp)), h.Content)
		if h.Significance.Tier == memory.TierDefining {
			line += " (this matters to them)"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// formatEntryLines renders plain entries as a bullet list, optionally with
// relative timestamps.
func formatEntryLines(entries []memory.Memory, withTime bool) string {
	now := time.Now()
	var lines []string
	for _, e := range entries {
		if withTime {
			lines = append(lines, fmt.Sprintf("- [%s] %s", formatRelativeTime(now.Sub(e.Timestamp)), e.Content))
		} else {
			lines = append(lines, "- "+e.Content)
		}
	}
	return strings.Join(lines, "\n")
}

// formatGossipSection renders gossip entries attributed to the character who
// shared them. AuthorID carries the source bot for gossip memories.
func formatGossipSection(entries []memory.Memory) string {
	var lines []string
	for _, e := range entries {
		source := e.AuthorID
		if source == "" {
			source = "someone"
		}
		lines = append(lines, fmt.Sprintf("- %s told you: %s", source, e.Content))
	}
	return strings.Join(lines, "\n")
}

// formatHistorySection renders the recent conversation with relative
// timestamps and speaker labels.
func formatHistorySection(entries []memory.Memory, botName, userName string) string {
	now := time.Now()
	var lines []string
	for _, e := range entries {
		speaker := userName
		if e.Role == memory.RoleBot {
			speaker = botName
		}
		relTime := formatRelativeTime(now.Sub(e.Timestamp))
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", relTime, speaker, e.Content))
	}
	return strings.Join(lines, "\n")
}

// formatRelativeTime converts a duration to a compact human-readable label
// such as "just now", "30s ago", "2m ago", "1h ago", "3d ago".
func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < 5*time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
