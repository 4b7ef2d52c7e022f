package validate

import (
	"context"
	"strings"
)

// Scorer computes sentiment, quality and technical depth for one answer.
// Implementations are treated as fallible external collaborators: callers
// must tolerate errors and slow responses.
type Scorer interface {
	Score(ctx context.Context, text string) (Score, error)
}

var positiveWords = wordSet(
	"excellent", "great", "amazing", "wonderful", "fantastic", "love", "enjoy",
	"excited", "passionate", "thrilled", "delighted", "impressed", "outstanding",
	"brilliant", "perfect", "awesome", "good", "nice", "happy", "pleased",
	"satisfied", "comfortable", "confident",
)

var negativeWords = wordSet(
	"terrible", "awful", "horrible", "bad", "worst", "hate", "dislike",
	"frustrated", "annoyed", "disappointed", "upset", "angry", "sad",
	"struggle", "problem", "issue", "worry", "stress", "anxious", "nervous",
	"uncomfortable", "confused",
)

var technicalWords = wordSet(
	"algorithm", "algorithms", "architecture", "scalability", "debugging",
	"optimization", "performance", "latency", "throughput", "database",
	"index", "cache", "caching", "concurrency", "deadlock", "transaction",
	"deployment", "testing", "refactoring", "microservices", "api",
	"security", "encryption", "monitoring", "profiling", "bottleneck",
	"implemented", "designed", "migrated", "benchmark",
)

var structureWords = wordSet(
	"first", "second", "then", "finally", "also", "because", "therefore",
	"however", "example", "approach", "solution", "tradeoff", "result",
)

// LexiconScorer is the built-in scoring model: a word-list heuristic over
// sentiment, answer structure and technical vocabulary density. It never
// returns an error and is safe for concurrent use.
type LexiconScorer struct{}

// NewLexiconScorer returns the default scoring model.
func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{}
}

// Score implements Scorer.
func (s *LexiconScorer) Score(_ context.Context, text string) (Score, error) {
	words := tokenize(text)
	if len(words) == 0 {
		return Score{Flags: []Flag{FlagEmpty}}, nil
	}

	return Score{
		Sentiment:      sentiment(words),
		Quality:        quality(words),
		TechnicalDepth: technicalDepth(words),
	}, nil
}

func sentiment(words []string) float64 {
	var pos, neg int
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}

	total := pos + neg
	if total == 0 {
		return 0
	}

	score := float64(pos-neg) / float64(total)
	// Long answers read more neutral than their word counts suggest.
	if len(words) > 50 {
		score *= 0.8
	}
	return clamp(score, -1, 1)
}

func quality(words []string) float64 {
	var score float64

	switch n := len(words); {
	case n > 100:
		score += 0.4
	case n > 50:
		score += 0.3
	case n > 20:
		score += 0.2
	default:
		score += 0.1
	}

	var structured int
	for _, w := range words {
		if _, ok := structureWords[w]; ok {
			structured++
		}
	}
	if structured >= 3 {
		score += 0.3
	} else if structured >= 1 {
		score += 0.2
	}

	// Sentences of reasonable average length read as clear.
	if avg := float64(len(words)) / float64(max(structured, 1)); avg > 5 {
		score += 0.2
	}

	return clamp(score, 0, 1)
}

func technicalDepth(words []string) float64 {
	var hits int
	for _, w := range words {
		if _, ok := technicalWords[w]; ok {
			hits++
		}
	}
	if hits == 0 {
		return 0
	}

	density := float64(hits) / float64(len(words))
	score := float64(hits)*0.1 + density*2
	return clamp(score, 0, 1)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
}

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
