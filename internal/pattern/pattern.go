// Package pattern finds recurring workflows across days by grouping
// sessions with similar inferred intent, and computes week-over-week
// friction trends from session history.
package pattern

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kalambet/flowx/internal/model"
)

// MinOccurrences is how many similar sessions make a pattern recurring.
const MinOccurrences = 2

// PatternID derives a deterministic pattern id from the canonical
// (first-seen) intent string.
func PatternID(intent string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(intent))))
	return "pat_" + hex.EncodeToString(sum[:])[:12]
}

// Detect groups analyzed sessions into recurring patterns.
//
// Sessions are walked in chronological order and each is attached to the
// FIRST existing cluster whose representative intent (the cluster's oldest
// session) clears the similarity threshold. This first-match-wins rule is
// deliberate: it is deterministic and linear in the number of clusters,
// and changing it to a best-match or globally optimal grouping changes
// observable results. Clusters below minOccurrences are dropped.
//
// Detection is a pure recompute; because cluster order and pattern ids are
// deterministic, rerunning over the same history converges to the same
// pattern set.
func Detect(sessions []model.WorkflowSession, threshold float64, minOccurrences int) []model.Pattern {
	if threshold <= 0 {
		threshold = SimilarityThreshold
	}
	if minOccurrences <= 0 {
		minOccurrences = MinOccurrences
	}

	var analyzed []model.WorkflowSession
	for _, s := range sessions {
		if s.Analyzed() {
			analyzed = append(analyzed, s)
		}
	}
	if len(analyzed) == 0 {
		return nil
	}
	sort.Slice(analyzed, func(i, j int) bool {
		return analyzed[i].StartTime.Before(analyzed[j].StartTime)
	})

	var clusters [][]model.WorkflowSession
	for _, s := range analyzed {
		attached := false
		for i := range clusters {
			if IntentSimilarity(s.Intent, clusters[i][0].Intent) >= threshold {
				clusters[i] = append(clusters[i], s)
				attached = true
				break
			}
		}
		if !attached {
			clusters = append(clusters, []model.WorkflowSession{s})
		}
	}

	var patterns []model.Pattern
	for _, c := range clusters {
		if len(c) < minOccurrences {
			continue
		}
		patterns = append(patterns, buildPattern(c))
	}

	// Biggest time sinks first.
	sort.SliceStable(patterns, func(i, j int) bool {
		return patterns[i].TotalMinutes > patterns[j].TotalMinutes
	})

	slog.Info("patterns detected",
		"sessions", len(analyzed),
		"patterns", len(patterns),
	)
	return patterns
}

// buildPattern aggregates one cluster. The cluster's first session is the
// representative: its intent names the pattern and seeds the pattern id.
func buildPattern(cluster []model.WorkflowSession) model.Pattern {
	intent := cluster[0].Intent

	var totalMinutes, rateSum float64
	levelCounts := map[model.FrictionLevel]int{}
	ids := make([]string, 0, len(cluster))
	var apps []string
	seenApps := map[string]bool{}

	for _, s := range cluster {
		totalMinutes += s.TotalDurationMinutes
		rateSum += s.FrictionRate
		levelCounts[s.FrictionLevel]++
		ids = append(ids, s.ID)
		for _, a := range s.AppsUsed {
			if !seenApps[a] {
				seenApps[a] = true
				apps = append(apps, a)
			}
		}
	}

	n := float64(len(cluster))
	return model.Pattern{
		ID:                 PatternID(intent),
		Intent:             intent,
		Occurrences:        len(cluster),
		FirstSeen:          cluster[0].StartTime,
		LastSeen:           cluster[len(cluster)-1].StartTime,
		AvgFrictionRate:    round1(rateSum / n),
		AvgDurationMinutes: round1(totalMinutes / n),
		TotalMinutes:       round1(totalMinutes),
		MostCommonFriction: mostCommonLevel(levelCounts),
		SessionIDs:         ids,
		AppsInvolved:       apps,
	}
}

// mostCommonLevel picks the modal friction level, breaking count ties in
// favor of the higher level.
func mostCommonLevel(counts map[model.FrictionLevel]int) model.FrictionLevel {
	order := []model.FrictionLevel{
		model.FrictionCritical,
		model.FrictionHigh,
		model.FrictionMedium,
		model.FrictionLow,
	}
	best := model.FrictionLow
	bestCount := -1
	for _, l := range order {
		if counts[l] > bestCount {
			best = l
			bestCount = counts[l]
		}
	}
	return best
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
