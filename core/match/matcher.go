package match

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"melodex/core/catalog"
	"melodex/logger"
	"melodex/model"
)

// ErrNoMatch means no candidate passed the duration filter. A wrong
// match silently delivers the wrong song, so rejecting is the safe
// outcome. User-visible, never retried.
var ErrNoMatch = errors.New("no acceptable source found")

// Weights tunes the match scoring. Mismatched tuning is a correctness
// risk (wrong song), so these are configuration, not constants.
type Weights struct {
	Duration float64 // weight of duration closeness
	Title    float64 // weight of title similarity
	MaxGap   int     // hard filter: reject candidates further than this many seconds
}

// searcher lets tests inject candidates without network I/O.
type searcher interface {
	Search(ctx context.Context, query string) ([]*model.MatchCandidate, error)
}

// Matcher selects the best platform source for a track.
type Matcher struct {
	search  searcher
	weights Weights
}

// NewMatcher creates a Matcher.
func NewMatcher(search searcher, weights Weights) *Matcher {
	if weights.MaxGap <= 0 {
		weights.MaxGap = 5
	}
	return &Matcher{search: search, weights: weights}
}

// Match queries the search backend with "artist title" and returns
// the highest scoring candidate, or ErrNoMatch if none survive the
// duration filter.
func (m *Matcher) Match(ctx context.Context, track *model.TrackIdentity) (*model.MatchCandidate, error) {
	query := strings.TrimSpace(track.Artist + " " + track.Title)
	candidates, err := m.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search for %q failed: %w", query, err)
	}

	best := m.Select(track, candidates)
	if best == nil {
		logger.Info("No acceptable candidate",
			logger.String("catalogId", track.CatalogID),
			logger.String("query", query),
			logger.Int("candidates", len(candidates)))
		return nil, fmt.Errorf("track %s: %w", track.CatalogID, ErrNoMatch)
	}

	logger.Info("Matched source",
		logger.String("catalogId", track.CatalogID),
		logger.String("sourceId", best.SourceID),
		logger.Float64("score", best.Score))
	return best, nil
}

// Select scores candidates against the track and picks the best one.
// Deterministic: equal scores keep the earlier candidate. Exported
// separately from Match so scoring is testable without a backend.
func (m *Matcher) Select(track *model.TrackIdentity, candidates []*model.MatchCandidate) *model.MatchCandidate {
	var best *model.MatchCandidate
	for _, c := range candidates {
		gap := c.Duration - track.Duration
		if gap < 0 {
			gap = -gap
		}
		// hard filter regardless of how good the title looks
		if gap > m.weights.MaxGap {
			continue
		}

		durScore := 1.0 - float64(gap)/float64(m.weights.MaxGap+1)
		titleScore := similarity(c.Title, track.Artist+" "+track.Title)
		score := m.weights.Duration*durScore + m.weights.Title*titleScore

		scored := *c
		scored.Score = score
		if best == nil || scored.Score > best.Score {
			best = &scored
		}
	}
	return best
}

// similarity is the token overlap between a candidate title and the
// requested artist+title, normalized to [0,1]. Both sides run through
// the same catalog normalization the identities use.
func similarity(candidateTitle, wanted string) float64 {
	ct := tokens(catalog.Normalize(candidateTitle))
	wt := tokens(catalog.Normalize(wanted))
	if len(ct) == 0 || len(wt) == 0 {
		return 0
	}

	matched := 0
	for tok := range wt {
		if _, ok := ct[tok]; ok {
			matched++
		}
	}
	union := len(ct) + len(wt) - matched
	return float64(matched) / float64(union)
}

func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}
