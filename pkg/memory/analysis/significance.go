package analysis

import (
	"strings"
	"sync"
	"unicode"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
)

// Significance factor names used in [memory.SignificanceMetadata.Factors].
const (
	FactorEmotion       = "emotion"
	FactorNovelty       = "novelty"
	FactorLifeEvent     = "life_event"
	FactorLength        = "length"
	FactorRecallMarker  = "recall_marker"
	FactorNameReference = "name_reference"
)

// Tier thresholds: ambient < 0.2 <= routine < 0.5 <= notable < 0.8 <= defining.
const (
	tierRoutineMin  = 0.2
	tierNotableMin  = 0.5
	tierDefiningMin = 0.8
)

// lifeEventKeywords flag messages describing major life changes.
var lifeEventKeywords = []string{
	"job", "promotion", "fired", "hired", "quit", "moved", "moving",
	"married", "engaged", "divorced", "pregnant", "born", "baby",
	"graduated", "graduation", "diagnosed", "surgery", "died", "lost",
	"funeral", "retired", "adopted",
}

// recallMarkers are explicit requests to remember something.
var recallMarkers = []string{
	"remember that", "don't forget", "dont forget", "remind me",
	"keep in mind", "note that",
}

// significantLengthChars is the message length above which the length
// factor contributes.
const significantLengthChars = 60

// Scorer computes overall significance for a turn. It keeps a per-user set
// of previously seen capitalised entities so that a first mention scores as
// novel. Safe for concurrent use via [NewScorer]'s internal tracking.
type Scorer struct {
	seen *entitySet

	// userName, when known, makes explicit references to the bot's partner
	// count toward significance.
	userName string
}

// NewScorer creates a Scorer. userName may be empty.
func NewScorer(userName string) *Scorer {
	return &Scorer{seen: newEntitySet(), userName: strings.ToLower(userName)}
}

// Score computes the significance metadata for one turn of text, given the
// already-classified emotion intensity.
func (s *Scorer) Score(userID, text string, emotionIntensity float64) memory.SignificanceMetadata {
	factors := make(map[string]float64, 6)
	lower := strings.ToLower(text)

	if emotionIntensity > 0 {
		factors[FactorEmotion] = clamp01(emotionIntensity) * 0.35
	}

	if novel := s.seen.observeNovel(userID, properNouns(text)); novel > 0 {
		score := 0.1 * float64(novel)
		if score > 0.25 {
			score = 0.25
		}
		factors[FactorNovelty] = score
	}

	for _, kw := range lifeEventKeywords {
		if containsWord(lower, kw) {
			factors[FactorLifeEvent] = 0.3
			break
		}
	}

	if len(text) > significantLengthChars {
		factors[FactorLength] = 0.1
	}

	for _, m := range recallMarkers {
		if strings.Contains(lower, m) {
			factors[FactorRecallMarker] = 0.3
			break
		}
	}

	if s.userName != "" && containsWord(lower, s.userName) {
		factors[FactorNameReference] = 0.1
	}

	var overall float64
	for _, v := range factors {
		overall += v
	}
	overall = clamp01(overall)

	return memory.SignificanceMetadata{
		Overall:         overall,
		Factors:         factors,
		Tier:            TierOf(overall),
		DecayResistance: clamp01(0.25 + 0.75*overall),
	}
}

// TierOf buckets an overall significance score.
func TierOf(overall float64) memory.SignificanceTier {
	switch {
	case overall >= tierDefiningMin:
		return memory.TierDefining
	case overall >= tierNotableMin:
		return memory.TierNotable
	case overall >= tierRoutineMin:
		return memory.TierRoutine
	default:
		return memory.TierAmbient
	}
}

// properNouns extracts capitalised tokens that are not sentence-initial,
// as a cheap proxy for named entities.
func properNouns(text string) []string {
	fields := strings.Fields(text)
	var out []string
	for i, f := range fields {
		f = strings.Trim(f, ".,!?;:'\"()[]")
		if f == "" {
			continue
		}
		r := []rune(f)
		if !unicode.IsUpper(r[0]) || len(r) < 3 {
			continue
		}
		// Skip sentence-initial words; they are capitalised regardless.
		if i == 0 || strings.HasSuffix(fields[i-1], ".") || strings.HasSuffix(fields[i-1], "!") || strings.HasSuffix(fields[i-1], "?") {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}

// containsWord reports whether lower contains w as a whole word.
func containsWord(lower, w string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], w)
		if i < 0 {
			return false
		}
		i += idx
		before := i == 0 || !isWordByte(lower[i-1])
		afterIdx := i + len(w)
		after := afterIdx >= len(lower) || !isWordByte(lower[afterIdx])
		if before && after {
			return true
		}
		idx = i + len(w)
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9' || b == '_'
}

// entitySet tracks which proper nouns each user has mentioned before.
type entitySet struct {
	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

func newEntitySet() *entitySet {
	return &entitySet{seen: make(map[string]map[string]struct{})}
}

// observeNovel records nouns for userID and returns how many were new.
func (e *entitySet) observeNovel(userID string, nouns []string) int {
	if len(nouns) == 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.seen[userID]
	if !ok {
		set = make(map[string]struct{})
		e.seen[userID] = set
	}
	novel := 0
	for _, n := range nouns {
		if _, known := set[n]; !known {
			set[n] = struct{}{}
			novel++
		}
	}
	return novel
}
