package analysis

import (
	"fmt"
	"sort"
)

// Recommendation policy thresholds. These are deliberate policy constants,
// not tuning knobs hidden in the ranking code.
const (
	// TopInterviewCount is how many leading candidates to shortlist when the
	// pool is large enough.
	TopInterviewCount = 3
	// CloseCallMargin is the score gap under which the top two candidates are
	// considered too close to separate on paper.
	CloseCallMargin = 5
	// StrongCandidateScore marks a candidate as interview-ready on their own.
	StrongCandidateScore = 80
)

// Rank produces the comparison view of a batch: successful results sorted by
// score descending with a stable tie-break on submission order, so of two
// equal scores the earlier-submitted candidate ranks higher. Ties do not
// share a rank. Failed items are excluded from every statistic, including
// the average.
func Rank(outcome BatchOutcome) RankedOutcome {
	var ranked []RankedCandidate
	var failed []TaskResult

	for _, r := range outcome.Results {
		if !r.Success {
			failed = append(failed, r)
			continue
		}
		ranked = append(ranked, RankedCandidate{
			Filename: r.Filename,
			Score:    r.Analysis.FitScore,
			Summary:  r.Analysis.Summary,
		})
	}

	// Results arrive in submission order, so a stable sort is the whole
	// tie-break policy.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	out := RankedOutcome{Ranked: ranked, Failed: failed}
	if len(ranked) == 0 {
		out.ScoreRange = "0-0"
		out.Recommendations = []string{"No candidates could be analyzed."}
		return out
	}

	total := 0
	min, max := ranked[0].Score, ranked[0].Score
	for i := range ranked {
		ranked[i].Rank = i + 1
		total += ranked[i].Score
		if ranked[i].Score < min {
			min = ranked[i].Score
		}
		if ranked[i].Score > max {
			max = ranked[i].Score
		}
	}

	out.HighestScore = max
	out.AverageScore = float64(total) / float64(len(ranked))
	out.ScoreRange = fmt.Sprintf("%d-%d", min, max)
	out.Recommendations = recommend(ranked)
	return out
}

// recommend derives human-readable guidance from the ranking. Deterministic:
// same ranking in, same text out.
func recommend(ranked []RankedCandidate) []string {
	var recs []string

	if len(ranked) >= TopInterviewCount {
		recs = append(recs, fmt.Sprintf("Invite the top %d candidates for interview.", TopInterviewCount))
	} else {
		recs = append(recs, fmt.Sprintf("Invite %s for interview.", ranked[0].Filename))
	}

	if len(ranked) >= 2 && ranked[0].Score-ranked[1].Score < CloseCallMargin {
		recs = append(recs, "Top two candidates are closely matched; schedule a technical interview for both.")
	}

	if ranked[0].Score >= StrongCandidateScore {
		recs = append(recs, fmt.Sprintf("%s is a strong match and can proceed directly to a final round.", ranked[0].Filename))
	}

	return recs
}
