// Package analysis derives the store-time metadata attached to every memory
// entry: the emotion classification and trajectory, the significance score,
// and the semantic key.
//
// Everything here is rule-based and allocation-light — analysis runs on the
// response hot path for every stored turn, so there is no LLM call and no
// I/O. A caller-supplied classifier hint (e.g. from a RoBERTa-style model
// running elsewhere) always wins over the keyword lexicon.
package analysis

import (
	"strings"
	"sync"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
)

// Emotion labels recognised by the classifier. The set intentionally mixes
// basic emotions with coarse valence labels because upstream classifiers
// emit both.
const (
	EmotionJoy          = "joy"
	EmotionSadness      = "sadness"
	EmotionAnger        = "anger"
	EmotionFear         = "fear"
	EmotionSurprise     = "surprise"
	EmotionDisgust      = "disgust"
	EmotionNeutral      = "neutral"
	EmotionAnxious      = "anxious"
	EmotionPositive     = "positive"
	EmotionNegative     = "negative"
	EmotionVeryPositive = "very_positive"
	EmotionVeryNegative = "very_negative"
)

// EmotionSource values record how an emotion label was decided.
const (
	SourceKeyword        = "keyword_detection"
	SourceSemanticRoute  = "semantic_routing"
	SourceContentDefault = "content_default"
)

// RobertaSource formats the emotion source for a classifier-supplied hint.
func RobertaSource(label string) string { return "roberta:" + label }

// emotionLexicon maps each label to the keywords that trigger it.
// Matching is case-insensitive whole-word.
var emotionLexicon = map[string][]string{
	EmotionJoy: {
		"happy", "glad", "joy", "joyful", "delighted", "excited", "thrilled",
		"wonderful", "amazing", "great", "fantastic", "love", "loved", "yay",
	},
	EmotionSadness: {
		"sad", "unhappy", "depressed", "miserable", "heartbroken", "crying",
		"cried", "grief", "lonely", "down", "blue", "devastated",
	},
	EmotionAnger: {
		"angry", "furious", "mad", "annoyed", "irritated", "rage", "hate",
		"frustrated", "outraged", "pissed",
	},
	EmotionFear: {
		"afraid", "scared", "terrified", "frightened", "fear", "panic",
		"dread", "horrified",
	},
	EmotionAnxious: {
		"anxious", "nervous", "worried", "stressed", "overwhelmed", "uneasy",
		"tense", "restless",
	},
	EmotionSurprise: {
		"surprised", "shocked", "astonished", "amazed", "unexpected", "wow",
		"unbelievable",
	},
	EmotionDisgust: {
		"disgusted", "gross", "revolting", "nasty", "awful", "repulsive",
		"sickening",
	},
}

// intensityByLabel gives the default intensity assigned to a keyword match.
var intensityByLabel = map[string]float64{
	EmotionJoy:          0.7,
	EmotionSadness:      0.7,
	EmotionAnger:        0.75,
	EmotionFear:         0.75,
	EmotionAnxious:      0.65,
	EmotionSurprise:     0.6,
	EmotionDisgust:      0.6,
	EmotionNeutral:      0.1,
	EmotionPositive:     0.5,
	EmotionNegative:     0.5,
	EmotionVeryPositive: 0.9,
	EmotionVeryNegative: 0.9,
}

// boosters amplify intensity when present alongside an emotion keyword.
var boosters = []string{"really", "so", "very", "extremely", "incredibly", "absolutely", "!"}

// EmotionHint is an optional caller-supplied classification, typically from
// an external transformer classifier.
type EmotionHint struct {
	// Label is the classifier's emotion label.
	Label string

	// Confidence is the classifier's confidence in [0,1].
	Confidence float64

	// Intensity is the classifier's intensity estimate in [0,1].
	// Zero means "not reported" and falls back to the label default.
	Intensity float64
}

// EmotionResult is the outcome of classifying one text.
type EmotionResult struct {
	// Label is the authoritative emotion label.
	Label string

	// Intensity is the emotion strength in [0,1].
	Intensity float64

	// Source records how the label was decided ("roberta:<label>" or
	// "keyword_detection"). A neutral keyword miss reports
	// "keyword_detection" with the neutral label; routing layers treat
	// that as a miss.
	Source string
}

// Classifier resolves emotion labels from hints and the keyword lexicon.
// The zero threshold accepts every hint; configure via [NewClassifier].
type Classifier struct {
	// hintThreshold is the minimum hint confidence that makes the hint
	// authoritative. Below it, keyword detection decides.
	hintThreshold float64
}

// DefaultHintThreshold is the confidence at which a transformer hint
// overrides keyword detection.
const DefaultHintThreshold = 0.7

// NewClassifier creates a Classifier that accepts hints at or above
// hintThreshold confidence.
func NewClassifier(hintThreshold float64) *Classifier {
	return &Classifier{hintThreshold: hintThreshold}
}

// Classify returns the authoritative emotion for text. A hint at or above
// the confidence threshold always wins over keyword detection.
func (c *Classifier) Classify(text string, hint *EmotionHint) EmotionResult {
	if hint != nil && hint.Label != "" && hint.Confidence >= c.hintThreshold {
		intensity := hint.Intensity
		if intensity == 0 {
			intensity = intensityByLabel[hint.Label]
			if intensity == 0 {
				intensity = 0.5
			}
		}
		return EmotionResult{
			Label:     hint.Label,
			Intensity: clamp01(intensity),
			Source:    RobertaSource(hint.Label),
		}
	}
	return DetectKeywordEmotion(text)
}

// DetectKeywordEmotion classifies text against the fixed emotion lexicon.
// The label with the most keyword hits wins; intensity is the label default
// amplified by booster words. A miss returns neutral with low intensity.
func DetectKeywordEmotion(text string) EmotionResult {
	words := tokenize(text)
	if len(words) == 0 {
		return EmotionResult{Label: EmotionNeutral, Intensity: 0, Source: SourceKeyword}
	}

	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	bestLabel := EmotionNeutral
	bestHits := 0
	for _, label := range []string{
		EmotionJoy, EmotionSadness, EmotionAnger, EmotionFear,
		EmotionAnxious, EmotionSurprise, EmotionDisgust,
	} {
		hits := 0
		for _, kw := range emotionLexicon[label] {
			if _, ok := wordSet[kw]; ok {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			bestLabel = label
		}
	}

	if bestHits == 0 {
		return EmotionResult{Label: EmotionNeutral, Intensity: 0.1, Source: SourceKeyword}
	}

	intensity := intensityByLabel[bestLabel]
	lower := strings.ToLower(text)
	for _, b := range boosters {
		if strings.Contains(lower, b) {
			intensity += 0.1
			break
		}
	}
	if bestHits > 1 {
		intensity += 0.05 * float64(bestHits-1)
	}

	return EmotionResult{Label: bestLabel, Intensity: clamp01(intensity), Source: SourceKeyword}
}

// trajectoryWindow bounds the per-user emotion history.
const trajectoryWindow = 10

// trackerState is one user's rolling emotion history.
type trackerState struct {
	labels      []string
	intensities []float64
	lastDelta   float64
}

// Tracker maintains per-user emotional trajectories and derives velocity,
// momentum, and stability for each new turn. Safe for concurrent use.
type Tracker struct {
	mu    sync.Mutex
	users map[string]*trackerState
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]*trackerState)}
}

// Observe records one classified turn for a user and returns the full
// emotion metadata for the entry being stored.
func (t *Tracker) Observe(userID string, res EmotionResult) memory.EmotionMetadata {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.users[userID]
	if !ok {
		st = &trackerState{}
		t.users[userID] = st
	}

	var velocity float64
	if n := len(st.intensities); n > 0 {
		velocity = res.Intensity - st.intensities[n-1]
	}
	if velocity > 1 {
		velocity = 1
	} else if velocity < -1 {
		velocity = -1
	}

	momentum := momentumOf(velocity, st.lastDelta)
	st.lastDelta = velocity

	st.labels = append(st.labels, res.Label)
	st.intensities = append(st.intensities, res.Intensity)
	if len(st.labels) > trajectoryWindow {
		st.labels = st.labels[len(st.labels)-trajectoryWindow:]
		st.intensities = st.intensities[len(st.intensities)-trajectoryWindow:]
	}

	trajectory := make([]string, len(st.labels))
	copy(trajectory, st.labels)

	return memory.EmotionMetadata{
		PrimaryEmotion: res.Label,
		Intensity:      res.Intensity,
		Trajectory:     trajectory,
		Velocity:       velocity,
		Momentum:       momentum,
		Stability:      stabilityOf(st.intensities),
	}
}

// momentumOf classifies the intensity trend. A sign flip between consecutive
// deltas is a reversal; otherwise magnitude decides.
func momentumOf(velocity, previous float64) memory.Momentum {
	const eps = 0.05
	if previous > eps && velocity < -eps || previous < -eps && velocity > eps {
		return memory.MomentumReversing
	}
	switch {
	case velocity > eps:
		return memory.MomentumAccelerating
	case velocity < -eps:
		return memory.MomentumDecelerating
	default:
		return memory.MomentumSteady
	}
}

// stabilityOf maps the spread of recent intensities to [0,1]; a flat history
// is fully stable.
func stabilityOf(intensities []float64) float64 {
	if len(intensities) < 2 {
		return 1
	}
	var mean float64
	for _, v := range intensities {
		mean += v
	}
	mean /= float64(len(intensities))
	var variance float64
	for _, v := range intensities {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(intensities))
	// Intensities live in [0,1], so variance tops out at 0.25.
	return clamp01(1 - variance*4)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// tokenize lowercases and splits text into words, stripping surrounding
// punctuation.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()[]")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
