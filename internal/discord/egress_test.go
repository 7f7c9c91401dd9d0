package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"

	"github.com/whisperengine-ai/whisperengine/internal/artifacts"
	dmock "github.com/whisperengine-ai/whisperengine/internal/discord/mock"
)

func TestChunkMessage(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "short text is one chunk",
			text: "Hello there.",
			want: []string{"Hello there."},
		},
		{
			name: "empty text yields nothing",
			text: "   ",
			want: nil,
		},
		{
			name: "long text splits at sentence boundary",
			text: strings.Repeat("a", 1990) + ". " + strings.Repeat("b", 100),
			want: []string{strings.Repeat("a", 1990) + ".", strings.Repeat("b", 100)},
		},
		{
			name: "unbreakable run splits hard",
			text: strings.Repeat("x", maxOutboundLen+5),
			want: []string{strings.Repeat("x", maxOutboundLen), strings.Repeat("x", 5)},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ChunkMessage(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("chunks = %d, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("chunk %d = %q, want %q", i, got[i][:min(40, len(got[i]))], tc.want[i][:min(40, len(tc.want[i]))])
				}
			}
		})
	}
}

func TestChunkMessage_Invariants(t *testing.T) {
	// A paragraph-heavy wall of text: every chunk must be non-empty and fit.
	text := strings.Repeat("First sentence here. Second sentence follows.\n\n", 120)
	for i, chunk := range ChunkMessage(text) {
		if len(chunk) == 0 || len(chunk) > maxOutboundLen {
			t.Errorf("chunk %d length = %d", i, len(chunk))
		}
	}
}

func TestSender_SendAndEdit(t *testing.T) {
	ctx := context.Background()
	gw := dmock.NewGateway()
	sn := NewSender(gw, nil, nil)

	id, err := sn.Send(ctx, "c1", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "m1" {
		t.Errorf("id = %q", id)
	}
	if err := sn.Edit(ctx, "c1", id, "hello edited"); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got := gw.Edits["m1"]; len(got) != 1 || got[0] != "hello edited" {
		t.Errorf("edits = %v", got)
	}

	gw.SendErr = errors.New("rate limited")
	if _, err := sn.Send(ctx, "c1", "boom"); err == nil {
		t.Error("want send error")
	}
}

func TestSender_SendChunked(t *testing.T) {
	ctx := context.Background()
	gw := dmock.NewGateway()
	sn := NewSender(gw, nil, nil)

	text := strings.Repeat("a", 1990) + ". " + strings.Repeat("b", 100)
	ref := &discordgo.MessageReference{MessageID: "target-1", ChannelID: "c1"}
	if err := sn.SendChunked(ctx, "c1", text, ref); err != nil {
		t.Fatalf("SendChunked: %v", err)
	}
	if len(gw.Sends) != 2 {
		t.Fatalf("sends = %d, want 2", len(gw.Sends))
	}
	if gw.Sends[0].Reference == nil || gw.Sends[0].Reference.MessageID != "target-1" {
		t.Error("first chunk is not a reply")
	}
	if gw.Sends[1].Reference != nil {
		t.Error("continuation chunk carries the reply reference")
	}
}

func TestSender_AttachPending(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	reg, err := artifacts.New(rdb, t.TempDir(), "we:", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Add(ctx, "u1", "image/png", "", []byte("fake png bytes")); err != nil {
		t.Fatal(err)
	}

	gw := dmock.NewGateway()
	sn := NewSender(gw, reg, nil)

	sn.AttachPending(ctx, "c1", "u1")
	if len(gw.Sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(gw.Sends))
	}
	files := gw.Sends[0].Files
	if len(files) != 1 || files[0].ContentType != "image/png" {
		t.Errorf("files = %+v", files)
	}

	// The registry drained: a second flush sends nothing.
	sn.AttachPending(ctx, "c1", "u1")
	if len(gw.Sends) != 1 {
		t.Errorf("sends after drain = %d, want 1", len(gw.Sends))
	}
}
