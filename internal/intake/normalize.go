package intake

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/hearthline/hearthline/internal/lead"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// defaultHeatingTypes are the canonical equipment kinds leads are filed
// under. Dispatch matches the model's free-text heating field against this
// list so "furniss" and "furnace" land in the same dashboard bucket.
var defaultHeatingTypes = []string{
	"furnace",
	"boiler",
	"heat pump",
	"water heater",
	"fireplace",
}

// NormalizerOption is a functional option for configuring a [Normalizer].
type NormalizerOption func(*Normalizer)

// WithHeatingTypes replaces the canonical heating-type vocabulary.
func WithHeatingTypes(types []string) NormalizerOption {
	return func(n *Normalizer) {
		n.heatingTypes = types
	}
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched entry to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) NormalizerOption {
	return func(n *Normalizer) {
		n.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and matching falls back to pure string similarity.
// Default: 0.85.
func WithFuzzyThreshold(threshold float64) NormalizerOption {
	return func(n *Normalizer) {
		n.fuzzyThreshold = threshold
	}
}

// Normalizer maps the model's free-text lead fields onto canonical values.
//
// Voice transcription mangles domain vocabulary ("boylur", "hot instal"), so
// exact string comparison is not enough. Matching proceeds in two stages:
// Double Metaphone codes filter phonetic candidates, then Jaro-Winkler
// similarity ranks them. When no candidate clears a threshold the input is
// kept verbatim rather than guessed at.
//
// Read-only after construction; safe for concurrent use.
type Normalizer struct {
	heatingTypes      []string
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNormalizer returns a Normalizer with the default vocabulary and
// thresholds, adjusted by the supplied options.
func NewNormalizer(opts ...NormalizerOption) *Normalizer {
	n := &Normalizer{
		heatingTypes:      defaultHeatingTypes,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// HeatingType returns the canonical heating type closest to raw, or raw
// trimmed and unchanged when nothing in the vocabulary is close enough.
func (n *Normalizer) HeatingType(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if canonical, ok := n.match(trimmed, n.heatingTypes); ok {
		return canonical
	}
	return trimmed
}

// Temp classifies the model's temp tag as [lead.TempHotInstall] or
// [lead.TempRepair]. Anything that does not read as a hot install — including
// an empty tag — is a repair.
func (n *Normalizer) Temp(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return lead.TempRepair
	}
	if strings.EqualFold(trimmed, lead.TempHotInstall) {
		return lead.TempHotInstall
	}
	if _, ok := n.match(trimmed, []string{strings.ToLower(lead.TempHotInstall)}); ok {
		return lead.TempHotInstall
	}
	return lead.TempRepair
}

// match finds the vocabulary entry most similar to phrase. Entries sharing a
// Double Metaphone code with the phrase compete on Jaro-Winkler score above
// the phonetic threshold; when none overlap phonetically, a stricter pure
// Jaro-Winkler pass runs against the whole vocabulary.
func (n *Normalizer) match(phrase string, vocabulary []string) (string, bool) {
	phraseLower := strings.ToLower(phrase)
	phraseTokens := strings.Fields(phraseLower)
	phraseCodes := metaphoneCodes(phraseTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)

	for _, entry := range vocabulary {
		entryLower := strings.ToLower(entry)
		entryTokens := strings.Fields(entryLower)

		phonetic := codesIntersect(phraseCodes, metaphoneCodes(entryTokens))
		score := similarity(phraseTokens, entryTokens, phraseLower, entryLower)

		if phonetic {
			if score >= n.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = entry, score, true
			}
		} else if !bestPhonetic && score >= n.fuzzyThreshold && score > bestScore {
			best, bestScore = entry, score
		}
	}

	return best, best != ""
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		primary, secondary := matchr.DoubleMetaphone(t)
		if primary != "" {
			codes[primary] = struct{}{}
		}
		if secondary != "" {
			codes[secondary] = struct{}{}
		}
	}
	return codes
}

func codesIntersect(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score between the phrase and the
// entry across three comparisons: the full strings, the space-stripped
// strings, and the best pairwise token score.
func similarity(phraseTokens, entryTokens []string, phraseFull, entryFull string) float64 {
	score := matchr.JaroWinkler(phraseFull, entryFull, false)

	if len(phraseTokens) > 1 || len(entryTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(phraseTokens, ""), strings.Join(entryTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, pt := range phraseTokens {
		for _, et := range entryTokens {
			if s := matchr.JaroWinkler(pt, et, false); s > score {
				score = s
			}
		}
	}

	return score
}
