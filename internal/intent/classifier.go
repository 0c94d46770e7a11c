// Package intent maps free-text user input onto the fixed closed set of
// support intents. Classification is a pure function over the trained phrase
// sets; it never returns an error and never panics outward.
package intent

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ridedesk/internal/chatmodel"
)

// Classifier scores input text against curated phrase sets. The phrase table
// is immutable after construction so tests can substitute alternate sets.
type Classifier struct {
	phrases      map[chatmodel.Intent][][]string
	quickActions map[chatmodel.Intent]string
}

// candidate is one scored intent during ranking. matched counts the tokens
// behind the best score and breaks ties in favor of the longer evidence.
type candidate struct {
	intent  chatmodel.Intent
	score   float64
	matched int
}

// NewClassifier builds a classifier from intent -> curated phrases. Phrases
// are tokenized once up front.
func NewClassifier(phraseSets map[chatmodel.Intent][]string) *Classifier {
	c := &Classifier{
		phrases:      make(map[chatmodel.Intent][][]string, len(phraseSets)),
		quickActions: defaultQuickActions(),
	}
	for intent, phrases := range phraseSets {
		tokenized := make([][]string, 0, len(phrases))
		for _, p := range phrases {
			tokens := tokenize(p)
			if len(tokens) > 0 {
				tokenized = append(tokenized, tokens)
			}
		}
		c.phrases[intent] = tokenized
	}
	return c
}

// NewDefaultClassifier builds a classifier with the built-in phrase sets.
func NewDefaultClassifier() *Classifier {
	return NewClassifier(DefaultPhraseSets())
}

// Classify maps text to an IntentResult. Empty input yields unknown with
// confidence exactly 0. Any internal fault also yields unknown/0.
func (c *Classifier) Classify(text string) (result chatmodel.IntentResult) {
	result = chatmodel.IntentResult{Intent: chatmodel.IntentUnknown, Confidence: 0}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("intent classification panicked, returning unknown")
			result = chatmodel.IntentResult{Intent: chatmodel.IntentUnknown, Confidence: 0}
		}
	}()

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return result
	}

	candidates := c.scoreAll(tokens)
	if len(candidates) == 0 {
		result.Entities = extractEntities(tokens)
		return result
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].matched != candidates[j].matched {
			return candidates[i].matched > candidates[j].matched
		}
		return candidates[i].intent < candidates[j].intent
	})

	top := candidates[0]
	confidence := c.confidenceFor(candidates)

	result = chatmodel.IntentResult{
		Intent:      top.intent,
		Confidence:  clamp01(confidence),
		Entities:    extractEntities(tokens),
		QuickAction: c.quickActions[top.intent],
	}
	return result
}

// scoreAll computes the best phrase-overlap score per intent. Only intents
// with a nonzero score become candidates.
func (c *Classifier) scoreAll(tokens []string) []candidate {
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}

	var candidates []candidate
	for intent, phrases := range c.phrases {
		best := 0.0
		bestMatched := 0
		for _, phrase := range phrases {
			matched := 0
			for _, pt := range phrase {
				if tokenSet[pt] {
					matched++
				}
			}
			score := float64(matched) / float64(len(phrase))
			if score > best || (score == best && matched > bestMatched) {
				best = score
				bestMatched = matched
			}
		}
		if best > 0 {
			candidates = append(candidates, candidate{intent: intent, score: best, matched: bestMatched})
		}
	}
	return candidates
}

// confidenceFor derives confidence from the relative margin between the top
// two candidates, not the raw score. A single unambiguous match gets a high
// fixed confidence. Weak absolute evidence scales the result down so that
// thin matches can fall under the orchestrator's low-confidence floor. The
// exact mapping is tunable policy; the ordering guarantee (clear winner >>
// near-tie) is the contract.
func (c *Classifier) confidenceFor(candidates []candidate) float64 {
	top := candidates[0]
	if len(candidates) == 1 {
		if top.score >= 0.5 {
			return 0.95
		}
		return 0.95 * strengthFactor(top.score)
	}

	second := candidates[1]
	margin := (top.score - second.score) / top.score
	base := 0.5 + 0.5*margin
	return base * strengthFactor(top.score)
}

// strengthFactor discounts candidates whose best phrase overlap is weak.
func strengthFactor(score float64) float64 {
	if score >= 0.5 {
		return 1.0
	}
	return score * 2
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// tokenize lowercases, strips punctuation and splits on whitespace.
func tokenize(text string) []string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonAlnum.ReplaceAllString(text, " ")
	return strings.Fields(text)
}

var urgentWords = map[string]bool{
	"urgent": true, "urgently": true, "asap": true, "now": true,
	"immediately": true, "hurry": true, "emergency": true,
}

// extractEntities pulls numeric time references and an urgency flag out of
// the token stream.
func extractEntities(tokens []string) chatmodel.IntentEntities {
	entities := chatmodel.IntentEntities{}
	for _, t := range tokens {
		if n, err := strconv.Atoi(t); err == nil && n >= 0 && n < 1000 {
			entities.Minutes = append(entities.Minutes, n)
			continue
		}
		if urgentWords[t] {
			entities.Urgent = true
		}
	}
	return entities
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
