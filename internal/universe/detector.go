// Package universe implements the cross-bot event bus: a rule-based detector
// that spots significant moments in user turns, a publication gate with
// privacy filters, and the worker-side gossip dispatcher that injects events
// into other bots' collections as gossip memories.
//
// The detector never runs an LLM and the published summary is always a
// templated one-liner; the user's raw text never leaves the source bot.
package universe

import (
	"strings"
	"time"

	"github.com/whisperengine-ai/whisperengine/pkg/types"
)

// lifeUpdates maps an update category to the phrases announcing it.
var lifeUpdates = map[string][]string{
	"job": {
		"new job", "got promoted", "got a promotion", "got hired",
		"quit my job", "got fired", "laid off", "started my own business",
	},
	"move": {
		"moving to", "moved to", "new apartment", "relocating", "packing up the house",
	},
	"education": {
		"graduated", "accepted into", "starting college", "starting university",
		"enrolled in", "got my degree", "passed my finals",
	},
	"relationship": {
		"got engaged", "got married", "we broke up", "broke up with",
		"new girlfriend", "new boyfriend", "met someone",
	},
	"family": {
		"i'm pregnant", "we're expecting", "had a baby", "new baby",
		"became a grandparent", "adopted a",
	},
	"home": {
		"bought a house", "bought an apartment", "renovating", "finally own a place",
	},
}

// positiveSpikes and negativeSpikes are explicit affect phrases. Ordinary
// sentiment words do not qualify; a spike is the user announcing the feeling.
var positiveSpikes = []string{
	"i'm so happy", "im so happy", "best day", "over the moon",
	"can't stop smiling", "i'm thrilled", "so excited", "amazing news",
}

var negativeSpikes = []string{
	"devastated", "heartbroken", "i'm so sad", "im so sad", "worst day",
	"can't stop crying", "terrified", "furious", "falling apart",
}

// sensitiveTopics maps a blocked topic to the phrases that mark it. A hit
// anywhere in the turn poisons the whole event.
var sensitiveTopics = map[string][]string{
	"health": {
		"diagnosed", "surgery", "hospital", "therapy", "therapist",
		"medication", "illness", "doctor said", "biopsy",
	},
	"finance": {
		"in debt", "bankrupt", "can't afford", "cant afford",
		"behind on rent", "money trouble", "maxed out my card",
	},
	"relationships": {
		"divorce", "cheated on", "cheating on", "affair", "restraining order",
	},
	"legal": {
		"lawsuit", "my lawyer", "arrested", "court date", "pressing charges",
	},
	"secrecy": {
		"don't tell anyone", "dont tell anyone", "keep this secret",
		"between us", "this is confidential",
	},
}

// Detector scans user turns for significant events. Stateless and cheap; it
// runs on the response hot path after every turn.
type Detector struct {
	bot string
	now func() time.Time
}

// NewDetector creates a detector publishing as bot.
func NewDetector(bot string) *Detector {
	return &Detector{bot: bot, now: time.Now}
}

// Detect scans one user turn. It returns the event to publish and true on a
// detection. The event's Summary is templated, never the raw text; its Topic
// carries any sensitive-topic hit so the bus can block it.
func (d *Detector) Detect(userID, text string) (types.UniverseEvent, bool) {
	lower := strings.ToLower(text)

	sensitive, isSensitive := matchTopic(lower, sensitiveTopics)

	if category, ok := matchTopic(lower, lifeUpdates); ok {
		ev := types.UniverseEvent{
			EventType: types.EventUserUpdate,
			UserID:    userID,
			SourceBot: d.bot,
			Summary:   "They shared a life update about their " + category + ".",
			Topic:     category,
			Timestamp: d.now().UTC(),
		}
		if isSensitive {
			ev.Topic = sensitive
		}
		return ev, true
	}

	if phraseHit(lower, positiveSpikes) || phraseHit(lower, negativeSpikes) {
		mood := "positive"
		if phraseHit(lower, negativeSpikes) {
			mood = "difficult"
		}
		ev := types.UniverseEvent{
			EventType: types.EventEmotionalSpike,
			UserID:    userID,
			SourceBot: d.bot,
			Summary:   "They had an emotionally " + mood + " moment in conversation.",
			Topic:     "mood",
			Timestamp: d.now().UTC(),
		}
		if isSensitive {
			ev.Topic = sensitive
		}
		return ev, true
	}

	// A sensitive hit with no other signal still surfaces as an event so the
	// bus blocks it and the drop is counted.
	if isSensitive {
		return types.UniverseEvent{
			EventType: types.EventUserUpdate,
			UserID:    userID,
			SourceBot: d.bot,
			Summary:   "They brought up something personal.",
			Topic:     sensitive,
			Timestamp: d.now().UTC(),
		}, true
	}

	return types.UniverseEvent{}, false
}

// SensitiveTopic reports the sensitive topic found in ev, if any.
func SensitiveTopic(ev types.UniverseEvent) (string, bool) {
	if _, ok := sensitiveTopics[ev.Topic]; ok {
		return ev.Topic, true
	}
	return "", false
}

func matchTopic(lower string, table map[string][]string) (string, bool) {
	for topic, phrases := range table {
		if phraseHit(lower, phrases) {
			return topic, true
		}
	}
	return "", false
}

func phraseHit(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
