package healthcheck

import (
	"math"
	"time"
)

const DefaultScoreThreshold = 2 * time.Second

// Scorer maps a probe's response time to a score in [0, 1].
type Scorer interface {
	Score(responseTime time.Duration) float64
}

type ScorerFunc func(responseTime time.Duration) float64

func (f ScorerFunc) Score(responseTime time.Duration) float64 {
	return f(responseTime)
}

// LinearScorer scores 1 for an instant response, falling linearly to 0 at Threshold.
type LinearScorer struct {
	Threshold time.Duration
}

func (s LinearScorer) Score(responseTime time.Duration) float64 {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultScoreThreshold
	}

	if responseTime <= 0 {
		return 1
	}

	score := 1 - float64(responseTime)/float64(threshold)
	score = math.Max(0, math.Min(1, score))

	return math.Round(score*1000) / 1000
}
