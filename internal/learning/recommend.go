package learning

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Score weights. Each factor is normalized to [0,1] before weighting; the
// weighted sum is scaled to [0,100].
const (
	weightFrequency = 0.40
	weightSessions  = 0.25
	weightDensity   = 0.20
	weightRecency   = 0.15
)

// Recommendation is one scored promotion candidate.
type Recommendation struct {
	Normalized       string    `json:"normalized"`
	Score            float64   `json:"score"`
	Rationale        string    `json:"rationale"`
	Count            int       `json:"count"`
	DistinctSessions int       `json:"distinctSessions"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
}

// Recommend scores aggregated candidates and returns the top limit entries
// with at least minCount sightings, highest score first.
func (j *Journal) Recommend(limit, minCount int) ([]Recommendation, error) {
	candidates, err := j.Aggregate()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	if minCount <= 0 {
		minCount = 1
	}

	var maxCount, maxSessions int
	var maxDensity float64
	densities := make([]float64, len(candidates))
	for i, c := range candidates {
		if c.Count > maxCount {
			maxCount = c.Count
		}
		if c.DistinctSessions > maxSessions {
			maxSessions = c.DistinctSessions
		}
		densities[i] = density(c)
		if densities[i] > maxDensity {
			maxDensity = densities[i]
		}
	}

	now := j.nowFn()
	recs := make([]Recommendation, 0, len(candidates))
	for i, c := range candidates {
		if c.Count < minCount {
			continue
		}

		frequency := ratio(float64(c.Count), float64(maxCount))
		sessions := ratio(float64(c.DistinctSessions), float64(maxSessions))
		dens := ratio(densities[i], maxDensity)
		hoursSince := now.Sub(c.LastSeen).Hours()
		if hoursSince < 0 {
			hoursSince = 0
		}
		recency := 1 / (1 + hoursSince)

		score := weightFrequency*frequency +
			weightSessions*sessions +
			weightDensity*dens +
			weightRecency*recency
		score = math.Round(score*100*100) / 100

		// The rationale carries the raw factor values so a scored decision
		// can be reproduced from the audit trail.
		rationale := fmt.Sprintf(
			"count=%d/%d sessions=%d/%d density=%.6f/s recencyHours=%.2f weights=%.2f/%.2f/%.2f/%.2f",
			c.Count, maxCount, c.DistinctSessions, maxSessions,
			densities[i], hoursSince,
			weightFrequency, weightSessions, weightDensity, weightRecency,
		)

		recs = append(recs, Recommendation{
			Normalized:       c.Normalized,
			Score:            score,
			Rationale:        rationale,
			Count:            c.Count,
			DistinctSessions: c.DistinctSessions,
			FirstSeen:        c.FirstSeen,
			LastSeen:         c.LastSeen,
		})
	}

	sort.Slice(recs, func(a, b int) bool {
		if recs[a].Score != recs[b].Score {
			return recs[a].Score > recs[b].Score
		}
		return recs[a].Normalized < recs[b].Normalized
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// density is sightings per second over the candidate's lifespan. A single
// sighting has no span, so it contributes a zero density rather than a
// division by zero.
func density(c Candidate) float64 {
	span := c.LastSeen.Sub(c.FirstSeen).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(c.Count) / span
}

func ratio(v, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return v / max
}
