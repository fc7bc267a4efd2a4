package match

import (
	"context"
	"errors"
	"testing"

	"melodex/model"
)

var testWeights = Weights{Duration: 0.4, Title: 0.6, MaxGap: 5}

func track(title, artist string, duration int) *model.TrackIdentity {
	return &model.TrackIdentity{
		CatalogID: "cat-1",
		Title:     title,
		Artist:    artist,
		Duration:  duration,
	}
}

func candidate(id, title string, duration int) *model.MatchCandidate {
	return &model.MatchCandidate{SourceID: id, Title: title, Duration: duration}
}

func TestSelectRejectsDurationOutliers(t *testing.T) {
	m := NewMatcher(nil, testWeights)
	tr := track("song a", "artist x", 200)

	// perfect title, duration off by more than 5s
	cands := []*model.MatchCandidate{
		candidate("v1", "Artist X - Song A", 206),
		candidate("v2", "Artist X - Song A", 194),
	}

	if got := m.Select(tr, cands); got != nil {
		t.Fatalf("expected no selection for duration outliers, got %s", got.SourceID)
	}
}

func TestSelectPrefersCloserDuration(t *testing.T) {
	m := NewMatcher(nil, testWeights)
	tr := track("song a", "artist x", 200)

	cands := []*model.MatchCandidate{
		candidate("far", "Artist X - Song A", 205),
		candidate("near", "Artist X - Song A", 200),
	}

	got := m.Select(tr, cands)
	if got == nil {
		t.Fatal("expected a selection")
	}
	if got.SourceID != "near" {
		t.Errorf("expected exact-duration candidate, got %s", got.SourceID)
	}
}

func TestSelectPrefersBetterTitle(t *testing.T) {
	m := NewMatcher(nil, testWeights)
	tr := track("song a", "artist x", 200)

	cands := []*model.MatchCandidate{
		candidate("noise", "totally unrelated upload", 200),
		candidate("good", "Artist X - Song A (Official Audio)", 200),
	}

	got := m.Select(tr, cands)
	if got == nil {
		t.Fatal("expected a selection")
	}
	if got.SourceID != "good" {
		t.Errorf("expected title match to win, got %s", got.SourceID)
	}
}

func TestSelectDeterministicOnTies(t *testing.T) {
	m := NewMatcher(nil, testWeights)
	tr := track("song a", "artist x", 200)

	cands := []*model.MatchCandidate{
		candidate("first", "Artist X Song A", 201),
		candidate("second", "Artist X Song A", 201),
	}

	for i := 0; i < 20; i++ {
		got := m.Select(tr, cands)
		if got == nil || got.SourceID != "first" {
			t.Fatalf("tie must keep the earlier candidate, got %v", got)
		}
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	m := NewMatcher(nil, testWeights)
	if got := m.Select(track("song a", "artist x", 200), nil); got != nil {
		t.Errorf("expected nil for empty candidates, got %v", got)
	}
}

type fakeSearch struct {
	query string
	hits  []*model.MatchCandidate
	err   error
}

func (f *fakeSearch) Search(_ context.Context, query string) ([]*model.MatchCandidate, error) {
	f.query = query
	return f.hits, f.err
}

func TestMatchComposesQueryAndClassifies(t *testing.T) {
	fs := &fakeSearch{hits: []*model.MatchCandidate{
		candidate("v1", "Artist X - Song A", 200),
	}}
	m := NewMatcher(fs, testWeights)

	got, err := m.Match(context.Background(), track("song a", "artist x", 200))
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if fs.query != "artist x song a" {
		t.Errorf("unexpected query %q", fs.query)
	}
	if got.SourceID != "v1" {
		t.Errorf("unexpected selection %s", got.SourceID)
	}
	if got.Score <= 0 {
		t.Errorf("expected a positive score, got %f", got.Score)
	}
}

func TestMatchNoSurvivors(t *testing.T) {
	fs := &fakeSearch{hits: []*model.MatchCandidate{
		candidate("v1", "Artist X - Song A", 300),
	}}
	m := NewMatcher(fs, testWeights)

	_, err := m.Match(context.Background(), track("song a", "artist x", 200))
	if err == nil {
		t.Fatal("expected ErrNoMatch")
	}
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("expected ErrNoMatch, got %v", err)
	}
}
