package dailylife

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/whisperengine-ai/whisperengine/internal/character"
	"github.com/whisperengine-ai/whisperengine/internal/config"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/selfmem"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/llm"
	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// reverieRecentReflections is how many prior reflections seed a dream.
const reverieRecentReflections = 3

// SelfMemory is the self-reflection surface the reverie needs.
type SelfMemory interface {
	RecentReflections(ctx context.Context, limit int) ([]selfmem.Reflection, error)
	StoreReflection(ctx context.Context, r selfmem.Reflection) error
}

var _ SelfMemory = (*selfmem.Store)(nil)

// Reverie handles the creative-idle cycle: after a long quiet stretch the
// character "daydreams" about how its recent interactions went and writes
// the result into self-memory, so later conversations can draw on it.
type Reverie struct {
	bot   string
	def   *character.Definition
	flags func() config.AutonomyConfig
	chat  llm.Provider
	mem   SelfMemory
	log   *slog.Logger
}

// NewReverie wires a Reverie. flags is read per run so reloaded switches
// take effect without a restart.
func NewReverie(bot string, def *character.Definition, flags func() config.AutonomyConfig, chat llm.Provider, mem SelfMemory, log *slog.Logger) *Reverie {
	if log == nil {
		log = slog.Default()
	}
	return &Reverie{
		bot:   bot,
		def:   def,
		flags: flags,
		chat:  chat,
		mem:   mem,
		log:   log,
	}
}

// Run executes one reverie cycle and stores the resulting reflection.
func (r *Reverie) Run(ctx context.Context, _ ReverieArgs) error {
	cfg := r.flags()
	if !cfg.EnableActivity {
		return nil
	}

	recent, err := r.mem.RecentReflections(ctx, reverieRecentReflections)
	if err != nil {
		return fmt.Errorf("dailylife: reverie: recent reflections: %w", err)
	}

	resp, err := r.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: r.prompt(recent),
		Messages: []types.Message{
			{Role: "user", Content: "It has been quiet for a while. Reflect."},
		},
		Temperature: creativeTemperature,
	})
	if err != nil {
		return fmt.Errorf("dailylife: reverie: complete: %w", err)
	}

	var refl selfmem.Reflection
	if err := decodeJSON(resp.Content, &refl); err != nil {
		return fmt.Errorf("dailylife: reverie: decode reflection: %w", err)
	}
	if err := r.mem.StoreReflection(ctx, refl); err != nil {
		return fmt.Errorf("dailylife: reverie: %w", err)
	}

	r.log.Info("reverie cycle complete", "bot", r.bot, "dominant_trait", refl.DominantTrait)
	return nil
}

// prompt asks the character to assess its own recent conduct, building on
// whatever it concluded in earlier reveries.
func (r *Reverie) prompt(recent []selfmem.Reflection) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s during an idle stretch, reflecting on recent conversations.\n", r.def.Name)
	sb.WriteString(r.def.Persona)
	if len(recent) > 0 {
		sb.WriteString("\n\nEarlier reflections, newest first:\n")
		for _, p := range recent {
			fmt.Fprintf(&sb, "- insight: %s; improvement: %s; dominant trait: %s\n",
				p.LearningInsight, p.ImprovementSuggestion, p.DominantTrait)
		}
	}
	sb.WriteString("\nAssess how authentically you have been acting lately. Respond with a JSON object only, no prose: " +
		`{"effectiveness":0.0,"authenticity":0.0,"emotional_resonance":0.0,` +
		`"learning_insight":"...","improvement_suggestion":"...","dominant_trait":"..."}` + "\n")
	sb.WriteString("All scores are in [0,1].")
	return sb.String()
}
