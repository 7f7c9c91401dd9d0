package analysis

// GeneralKey is the semantic-key fallback when no topical cluster matches.
const GeneralKey = "general"

// DefaultVocabulary is the shipped closed set of topical clusters. Each key
// maps to the whole-word triggers that route a text to that cluster. The
// vocabulary is configurable per deployment via [NewKeyExtractor]; keys are
// topical tags, never derived from the text itself.
var DefaultVocabulary = map[string][]string{
	"marine_biology":    {"ocean", "marine", "reef", "coral", "fish", "whale", "dolphin", "octopus", "shark", "sea"},
	"academic_anxiety":  {"exam", "thesis", "dissertation", "grades", "finals", "midterm", "assignment", "semester", "professor"},
	"pet_identity":      {"cat", "dog", "puppy", "kitten", "hamster", "parrot", "pet", "vet"},
	"preference_food":   {"food", "pizza", "sushi", "coffee", "tea", "recipe", "cooking", "restaurant", "dinner", "lunch", "breakfast"},
	"work_career":       {"job", "work", "career", "boss", "interview", "salary", "promotion", "office", "coworker", "meeting"},
	"family":            {"mom", "dad", "mother", "father", "sister", "brother", "family", "parents", "grandma", "grandpa"},
	"travel":            {"travel", "trip", "flight", "vacation", "hotel", "airport", "visit", "abroad", "backpacking"},
	"music":             {"music", "song", "album", "concert", "band", "guitar", "piano", "playlist", "lyrics"},
	"gaming":            {"game", "gaming", "console", "playthrough", "quest", "raid", "speedrun", "rpg"},
	"health_fitness":    {"gym", "workout", "running", "yoga", "diet", "exercise", "marathon", "fitness"},
	"creative_projects": {"painting", "drawing", "writing", "novel", "sketch", "pottery", "photography", "craft"},
	"technology":        {"computer", "code", "coding", "programming", "software", "laptop", "server", "robot", "ai"},
	"sports":            {"soccer", "football", "basketball", "tennis", "baseball", "hockey", "match", "tournament"},
	"books_reading":     {"book", "reading", "novel", "author", "chapter", "library", "bookstore"},
	"nature_outdoors":   {"hiking", "camping", "mountain", "forest", "garden", "birds", "trail"},
	"astronomy_space":   {"space", "stars", "telescope", "planet", "galaxy", "astronomy", "nasa", "rocket"},
}

// KeyExtractor assigns semantic keys from a closed topical vocabulary.
// It never produces a key derived from the text's leading words.
type KeyExtractor struct {
	vocab map[string][]string
}

// NewKeyExtractor creates a KeyExtractor over vocab. A nil vocab uses
// [DefaultVocabulary].
func NewKeyExtractor(vocab map[string][]string) *KeyExtractor {
	if vocab == nil {
		vocab = DefaultVocabulary
	}
	return &KeyExtractor{vocab: vocab}
}

// Extract returns the best-matching semantic key for text, or [GeneralKey]
// when no cluster's triggers appear. Ties break to the lexicographically
// smaller key so the result is deterministic.
func (k *KeyExtractor) Extract(text string) string {
	words := tokenize(text)
	if len(words) == 0 {
		return GeneralKey
	}
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	best := GeneralKey
	bestHits := 0
	for key, triggers := range k.vocab {
		hits := 0
		for _, t := range triggers {
			if _, ok := wordSet[t]; ok {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && key < best) {
			bestHits = hits
			best = key
		}
	}
	if bestHits == 0 {
		return GeneralKey
	}
	return best
}

// Known reports whether key is part of the closed vocabulary.
func (k *KeyExtractor) Known(key string) bool {
	_, ok := k.vocab[key]
	return ok
}

// Keys returns the vocabulary's keys, unsorted.
func (k *KeyExtractor) Keys() []string {
	out := make([]string, 0, len(k.vocab))
	for key := range k.vocab {
		out = append(out, key)
	}
	return out
}
