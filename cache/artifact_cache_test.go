package cache

import (
	"testing"

	"melodex/model"
)

func TestKeyForDeterministic(t *testing.T) {
	track := &model.TrackIdentity{
		CatalogID: "cat-1",
		Title:     "song a",
		Artist:    "artist x",
		Duration:  200,
	}
	if KeyFor(track, model.QualityStandard) != KeyFor(track, model.QualityStandard) {
		t.Error("same identity and tier must derive the same key")
	}
	if KeyFor(track, model.QualityStandard) == KeyFor(track, model.QualityHigh) {
		t.Error("tiers must map to distinct keys")
	}
}

func TestKeyForConvergesEquivalentEntries(t *testing.T) {
	a := &model.TrackIdentity{CatalogID: "cat-1", Title: "song a", Artist: "artist x", Duration: 200}
	// different catalog entry, same normalized identity, duration off by one
	b := &model.TrackIdentity{CatalogID: "cat-2", Title: "song a", Artist: "artist x", Duration: 201}
	if KeyFor(a, model.QualityStandard) != KeyFor(b, model.QualityStandard) {
		t.Error("equivalent entries with near-equal durations must share a key")
	}

	c := &model.TrackIdentity{CatalogID: "cat-3", Title: "song a", Artist: "artist x", Duration: 230}
	if KeyFor(a, model.QualityStandard) == KeyFor(c, model.QualityStandard) {
		t.Error("clearly different durations must not collide")
	}
}

func TestKeyForDistinguishesTracks(t *testing.T) {
	a := &model.TrackIdentity{Title: "song a", Artist: "artist x", Duration: 200}
	b := &model.TrackIdentity{Title: "song b", Artist: "artist x", Duration: 200}
	c := &model.TrackIdentity{Title: "song a", Artist: "artist y", Duration: 200}
	ka := KeyFor(a, model.QualityStandard)
	if ka == KeyFor(b, model.QualityStandard) || ka == KeyFor(c, model.QualityStandard) {
		t.Error("different titles or artists must derive different keys")
	}
}
