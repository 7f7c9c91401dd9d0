package respond

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
)

const (
	// defaultEditInterval paces streaming message edits. Discord rate-limits
	// edits; anything faster than this gets the bot throttled.
	defaultEditInterval = 700 * time.Millisecond

	// maxMessageLen is Discord's hard content cap per message.
	maxMessageLen = 2000
)

// Sink is the messaging surface the streamer drives. Send returns the
// created message's id for subsequent edits.
type Sink interface {
	Send(ctx context.Context, channelID, content string) (string, error)
	Edit(ctx context.Context, channelID, messageID, content string) error
}

// Streamer renders an LLM completion stream as a progressively edited
// message: the first chunk sends the message, later chunks edit it in place
// at a bounded rate, and overflow past the platform cap rolls into a fresh
// message at a clean boundary.
type Streamer struct {
	sink     Sink
	interval time.Duration
	maxLen   int
	now      func() time.Time
}

// StreamerOption is a functional option for [NewStreamer].
type StreamerOption func(*Streamer)

// WithEditInterval overrides the minimum time between in-place edits.
func WithEditInterval(d time.Duration) StreamerOption {
	return func(s *Streamer) { s.interval = d }
}

// NewStreamer creates a streamer over sink.
func NewStreamer(sink Sink, opts ...StreamerOption) *Streamer {
	s := &Streamer{
		sink:     sink,
		interval: defaultEditInterval,
		maxLen:   maxMessageLen,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Stream consumes chunks until the channel closes and returns the complete
// reply text. The text is also delivered to the sink as it arrives. A sink or
// stream error aborts delivery; the accumulated text is still returned so the
// caller can decide what to store.
func (s *Streamer) Stream(ctx context.Context, channelID string, chunks <-chan llm.Chunk) (string, error) {
	var full strings.Builder

	var (
		current  strings.Builder
		msgID    string
		lastSent string
		lastEdit time.Time
	)

	flush := func(force bool) error {
		content := strings.TrimSpace(current.String())
		if content == "" || content == lastSent {
			return nil
		}
		if msgID == "" {
			id, err := s.sink.Send(ctx, channelID, content)
			if err != nil {
				return fmt.Errorf("respond: send: %w", err)
			}
			msgID = id
			lastSent = content
			lastEdit = s.now()
			return nil
		}
		if !force && s.now().Sub(lastEdit) < s.interval {
			return nil
		}
		if err := s.sink.Edit(ctx, channelID, msgID, content); err != nil {
			return fmt.Errorf("respond: edit: %w", err)
		}
		lastSent = content
		lastEdit = s.now()
		return nil
	}

	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			return full.String(), fmt.Errorf("respond: stream error: %s", chunk.Text)
		}
		if chunk.Text == "" {
			continue
		}
		full.WriteString(chunk.Text)
		current.WriteString(chunk.Text)

		// Overflow: finalize the current message at a clean boundary and
		// carry the remainder into a fresh one.
		for current.Len() > s.maxLen {
			text := current.String()
			cut := splitPoint(text, s.maxLen)
			head, tail := strings.TrimSpace(text[:cut]), strings.TrimSpace(text[cut:])

			current.Reset()
			current.WriteString(head)
			if err := flush(true); err != nil {
				return full.String(), err
			}

			msgID = ""
			lastSent = ""
			current.Reset()
			current.WriteString(tail)
		}

		if err := flush(false); err != nil {
			return full.String(), err
		}
	}

	if err := flush(true); err != nil {
		return full.String(), err
	}
	return full.String(), nil
}

// splitPoint finds where to cut text so the head fits in limit characters.
// Preference order: sentence boundary, paragraph break, word boundary. A
// single unbreakable run is cut hard at the limit.
func splitPoint(text string, limit int) int {
	window := text[:limit]
	best := -1
	if i := strings.LastIndex(window, ". "); i >= 0 {
		best = i + 2
	}
	if i := strings.LastIndex(window, "\n\n"); i > best {
		best = i + 2
	}
	if best > 0 {
		return best
	}
	if i := strings.LastIndexByte(window, ' '); i > 0 {
		return i + 1
	}
	return limit
}
