// Package character loads and serves the bot's character definition: the
// persona prompt, interests, emoji palette, scripted fallback responses, and
// the trust evolution ladder. Definitions are authored as YAML files; this
// package only reads them.
package character

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whisperengine-ai/whisperengine/internal/trust"
)

// EvolutionStage describes one rung of the relationship ladder. Stages may
// override the default trust thresholds and attach character-specific traits
// and a milestone line spoken when the stage is first reached.
type EvolutionStage struct {
	Label     string   `yaml:"label"`
	MinTrust  float64  `yaml:"min_trust"`
	Traits    []string `yaml:"traits,omitempty"`
	Milestone string   `yaml:"milestone,omitempty"`
}

// Definition is a complete character. Zero-value fields are filled with
// defaults by Load; Name must come from the file.
type Definition struct {
	// Name is the display name, not the bot_name binding.
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`

	Interests    []string `yaml:"interests,omitempty"`
	EmojiPalette []string `yaml:"emoji_palette,omitempty"`

	// ErrorResponses are spoken when the response path fails internally;
	// ColdResponses when the user is in a moderation timeout.
	ErrorResponses []string `yaml:"error_responses,omitempty"`
	ColdResponses  []string `yaml:"cold_responses,omitempty"`

	// ReactionRate is the per-message probability of an autonomous emoji
	// reaction, in [0, 1].
	ReactionRate float64 `yaml:"reaction_rate,omitempty"`

	// Evolution overrides the default trust ladder when present. Stages are
	// kept sorted by MinTrust ascending.
	Evolution []EvolutionStage `yaml:"evolution,omitempty"`
}

// defaultEvolution mirrors the built-in trust ladder.
var defaultEvolution = []EvolutionStage{
	{Label: string(trust.StageStranger), MinTrust: -100},
	{Label: string(trust.StageAcquaintance), MinTrust: 20},
	{Label: string(trust.StageFriend), MinTrust: 40, Traits: []string{"friendly"}},
	{Label: string(trust.StageCloseFriend), MinTrust: 60, Traits: []string{"vulnerable"}},
	{Label: string(trust.StageSoulmate), MinTrust: 80, Traits: []string{"vulnerable", "protective"}},
}

var defaultErrorResponses = []string{
	"Sorry, I lost my train of thought there. What were you saying?",
	"Hm, something scrambled on my end. Mind trying that again?",
}

var defaultColdResponses = []string{
	"I don't think I want to talk right now.",
	"Let's pick this up some other time.",
}

// Load reads a character definition from the YAML file at path.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("character: open %q: %w", path, err)
	}
	defer f.Close()

	def, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("character: parse %q: %w", path, err)
	}
	return def, nil
}

// LoadFromReader decodes a definition from r, applies defaults, and
// validates it.
func LoadFromReader(r io.Reader) (*Definition, error) {
	def := &Definition{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(def); err != nil {
		return nil, fmt.Errorf("character: decode yaml: %w", err)
	}
	def.applyDefaults()
	if err := def.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func (d *Definition) applyDefaults() {
	if len(d.Evolution) == 0 {
		d.Evolution = append([]EvolutionStage(nil), defaultEvolution...)
	}
	sort.SliceStable(d.Evolution, func(i, j int) bool {
		return d.Evolution[i].MinTrust < d.Evolution[j].MinTrust
	})
	if len(d.ErrorResponses) == 0 {
		d.ErrorResponses = defaultErrorResponses
	}
	if len(d.ColdResponses) == 0 {
		d.ColdResponses = defaultColdResponses
	}
}

func (d *Definition) validate() error {
	var errs []error
	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, errors.New("character: name is required"))
	}
	if strings.TrimSpace(d.Persona) == "" {
		errs = append(errs, errors.New("character: persona is required"))
	}
	if d.ReactionRate < 0 || d.ReactionRate > 1 {
		errs = append(errs, fmt.Errorf("character: reaction_rate %v outside [0, 1]", d.ReactionRate))
	}
	for i, s := range d.Evolution {
		if strings.TrimSpace(s.Label) == "" {
			errs = append(errs, fmt.Errorf("character: evolution stage %d has no label", i))
		}
	}
	return errors.Join(errs...)
}

// StageFor returns the evolution stage covering the given trust score.
func (d *Definition) StageFor(score float64) EvolutionStage {
	stage := d.Evolution[0]
	for _, s := range d.Evolution {
		if score >= s.MinTrust {
			stage = s
		}
	}
	return stage
}

// TraitsFor returns every trait unlocked at or below the given trust score,
// deduplicated, in ladder order.
func (d *Definition) TraitsFor(score float64) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range d.Evolution {
		if score < s.MinTrust {
			break
		}
		for _, t := range s.Traits {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// MilestoneFor returns the character's milestone line for crossing from the
// stage covering before to the stage covering after, if the new stage
// defines one. The generic ladder message is the fallback.
func (d *Definition) MilestoneFor(before, after float64) string {
	from, to := d.StageFor(before), d.StageFor(after)
	if from.Label == to.Label {
		return ""
	}
	if to.Milestone != "" {
		return to.Milestone
	}
	return trust.MilestoneMessage(trust.Stage(from.Label), trust.Stage(to.Label))
}

// ErrorResponse picks a scripted line for internal failures.
func (d *Definition) ErrorResponse() string {
	return d.ErrorResponses[rand.IntN(len(d.ErrorResponses))]
}

// ColdResponse picks a scripted line for users in a moderation timeout.
func (d *Definition) ColdResponse() string {
	return d.ColdResponses[rand.IntN(len(d.ColdResponses))]
}
