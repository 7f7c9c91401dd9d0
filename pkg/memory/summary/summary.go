// Package summary builds extractive conversation summaries.
//
// The summariser embeds every candidate sentence, scores each one by centrality
// (mean cosine similarity to the rest of the conversation), drops
// near-duplicates, and returns the top sentences verbatim. It never produces a
// generic template; the output is always the user's and bot's own words.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/whisperengine-ai/whisperengine/pkg/memory"
	"github.com/whisperengine-ai/whisperengine/pkg/memory/analysis"
	"github.com/whisperengine-ai/whisperengine/pkg/nvector"
	"github.com/whisperengine-ai/whisperengine/pkg/provider/embeddings"
)

// Method is the algorithm identifier carried on every SummaryResult.
const Method = "extractive_centrality"

// dedupThreshold is the cosine similarity above which two sentences are
// considered duplicates and only the more central one survives.
const dedupThreshold = 0.92

// minSentenceChars filters out fragments too short to carry meaning.
const minSentenceChars = 12

// Summariser produces extractive summaries using an embedding model.
type Summariser struct {
	embed embeddings.Provider
	keys  *analysis.KeyExtractor
}

// New creates a Summariser. keys may be nil for the default topical vocabulary.
func New(embed embeddings.Provider, keys *analysis.KeyExtractor) *Summariser {
	if keys == nil {
		keys = analysis.NewKeyExtractor(nil)
	}
	return &Summariser{embed: embed, keys: keys}
}

// Summarize builds an extractive summary of history, returning at most limit
// sentences. History order is preserved in the output regardless of score.
func (s *Summariser) Summarize(ctx context.Context, history []memory.Memory, limit int) (memory.SummaryResult, error) {
	if limit <= 0 {
		limit = 3
	}
	result := memory.SummaryResult{Method: Method}

	sentences := splitSentences(history)
	result.SentencesAnalyzed = len(sentences)
	result.Themes = themesOf(s.keys, history)
	result.EmotionsDetected = emotionsOf(history)
	if len(sentences) == 0 {
		return result, nil
	}
	if len(sentences) == 1 {
		result.TopicSummary = sentences[0].text
		return result, nil
	}

	texts := make([]string, len(sentences))
	for i, sn := range sentences {
		texts[i] = sn.text
	}
	vecs, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return result, fmt.Errorf("summary: embed sentences: %w", err)
	}
	if len(vecs) != len(sentences) {
		return result, fmt.Errorf("summary: expected %d vectors, got %d", len(sentences), len(vecs))
	}

	// Centrality: mean similarity to every other sentence.
	for i := range sentences {
		var total float64
		for j := range sentences {
			if i == j {
				continue
			}
			total += nvector.Cosine(vecs[i], vecs[j])
		}
		sentences[i].centrality = total / float64(len(sentences)-1)
	}

	byScore := make([]int, len(sentences))
	for i := range byScore {
		byScore[i] = i
	}
	sort.SliceStable(byScore, func(a, b int) bool {
		return sentences[byScore[a]].centrality > sentences[byScore[b]].centrality
	})

	// Pick top sentences, skipping near-duplicates of already picked ones.
	var picked []int
	for _, idx := range byScore {
		if len(picked) >= limit {
			break
		}
		dup := false
		for _, p := range picked {
			if nvector.Cosine(vecs[idx], vecs[p]) >= dedupThreshold {
				dup = true
				break
			}
		}
		if !dup {
			picked = append(picked, idx)
		}
	}
	sort.Ints(picked) // restore conversation order

	parts := make([]string, len(picked))
	for i, idx := range picked {
		parts[i] = sentences[idx].text
	}
	result.TopicSummary = strings.Join(parts, " ")
	return result, nil
}

type sentence struct {
	text       string
	centrality float64
}

// splitSentences breaks conversation content into candidate sentences,
// preserving order and skipping fragments.
func splitSentences(history []memory.Memory) []sentence {
	var out []sentence
	for _, m := range history {
		for _, raw := range splitText(m.Content) {
			trimmed := strings.TrimSpace(raw)
			if len(trimmed) < minSentenceChars {
				continue
			}
			out = append(out, sentence{text: trimmed})
		}
	}
	return out
}

// splitText splits on sentence-final punctuation, keeping the punctuation.
func splitText(text string) []string {
	var parts []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			parts = append(parts, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

// themesOf collects the distinct topical keys seen across the conversation,
// in order of first appearance. The general fallback key is not a theme.
func themesOf(keys *analysis.KeyExtractor, history []memory.Memory) []string {
	seen := map[string]bool{}
	var themes []string
	for _, m := range history {
		key := m.SemanticKey
		if key == "" {
			key = keys.Extract(m.Content)
		}
		if key == analysis.GeneralKey || seen[key] {
			continue
		}
		seen[key] = true
		themes = append(themes, key)
	}
	return themes
}

// emotionsOf tallies the emotion labels in the conversation, most frequent
// first; ties break alphabetically for determinism.
func emotionsOf(history []memory.Memory) []string {
	counts := map[string]int{}
	for _, m := range history {
		label := m.Emotion.PrimaryEmotion
		if label == "" || label == analysis.EmotionNeutral {
			continue
		}
		counts[label]++
	}
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	return labels
}
