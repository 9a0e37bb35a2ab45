package keywords

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/IshaanNene/RankWatch/internal/types"
)

func TestPrioritizeScenarioB(t *testing.T) {
	metrics := []types.KeywordMetric{
		{Keyword: "a", Impressions: 1000, Position: 3},
		{Keyword: "b", Impressions: 10, Position: 9},
	}
	got := Prioritize(metrics, Options{MaxKeywords: 1})
	if len(got) != 1 || got[0].Keyword != "a" {
		t.Fatalf("got %+v, want [a]", got)
	}
	if got[0].Impressions != 1000 || got[0].Position != 3 {
		t.Errorf("metrics not carried over: %+v", got[0])
	}
}

func TestPrioritizeSortedAndCapped(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		var metrics []types.KeywordMetric
		for i := 0; i < 30; i++ {
			metrics = append(metrics, types.KeywordMetric{
				Keyword:     fmt.Sprintf("kw %d", i),
				Impressions: rng.Int63n(500),
				Position:    1 + rng.Float64()*40,
			})
		}
		limit := 1 + rng.Intn(10)
		got := Prioritize(metrics, Options{MaxKeywords: limit, ArticleTitle: "kw 3 guide"})

		if len(got) > limit {
			t.Fatalf("len %d > limit %d", len(got), limit)
		}
		for i := 1; i < len(got); i++ {
			if got[i].Priority > got[i-1].Priority {
				t.Fatalf("not sorted descending at %d: %+v", i, got)
			}
		}
		for _, pk := range got {
			if pk.Impressions == 0 {
				t.Fatalf("zero-impression keyword selected: %+v", pk)
			}
		}
	}
}

func TestPrioritizePositionOutweighsTitle(t *testing.T) {
	metrics := []types.KeywordMetric{
		{Keyword: "cheap flights", Impressions: 100, Position: 15},
		{Keyword: "best hotels", Impressions: 100, Position: 2},
	}
	got := Prioritize(metrics, Options{MaxKeywords: 2, ArticleTitle: "Cheap Flights to Rome"})
	if got[0].Keyword != "best hotels" {
		t.Errorf("title overlap should only break ties, got %+v", got)
	}

	tied := []types.KeywordMetric{
		{Keyword: "best hotels", Impressions: 100, Position: 2},
		{Keyword: "cheap flights", Impressions: 100, Position: 2},
	}
	got = Prioritize(tied, Options{MaxKeywords: 2, ArticleTitle: "Cheap Flights to Rome"})
	if got[0].Keyword != "cheap flights" {
		t.Errorf("title overlap should break the tie, got %+v", got)
	}
}

func TestPrioritizeStableTies(t *testing.T) {
	metrics := []types.KeywordMetric{
		{Keyword: "z", Impressions: 50, Position: 4},
		{Keyword: "a", Impressions: 50, Position: 4},
		{Keyword: "m", Impressions: 50, Position: 4},
	}
	got := Prioritize(metrics, Options{MaxKeywords: 3})
	for i, want := range []string{"z", "a", "m"} {
		if got[i].Keyword != want {
			t.Fatalf("tie order changed: %+v", got)
		}
	}
}

func TestPrioritizeManualOverride(t *testing.T) {
	metrics := []types.KeywordMetric{
		{Keyword: "a", Impressions: 1000, Position: 1},
		{Keyword: "low", Impressions: 1, Position: 50},
	}
	selected := []string{"low", "unseen", "a", "extra"}
	got := Prioritize(metrics, Options{MaxKeywords: 3, Selected: selected})

	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := range got {
		if got[i].Keyword != selected[i] || !got[i].Manual {
			t.Errorf("got[%d] = %+v, want %q", i, got[i], selected[i])
		}
		if i > 0 && got[i].Priority >= got[i-1].Priority {
			t.Errorf("manual priorities must decrease: %+v", got)
		}
	}
	if got[0].Impressions != 1 {
		t.Errorf("known metrics should be attached, got %+v", got[0])
	}
}

func TestPrioritizeEdgeCases(t *testing.T) {
	if got := Prioritize([]types.KeywordMetric{{Keyword: "a", Impressions: 0, Position: 1}}, Options{MaxKeywords: 3}); len(got) != 0 {
		t.Errorf("zero impressions should yield empty output, got %+v", got)
	}
	if got := Prioritize([]types.KeywordMetric{{Keyword: "a", Impressions: 5, Position: 1}}, Options{MaxKeywords: 0}); got == nil || len(got) != 0 {
		t.Errorf("MaxKeywords 0 should yield an empty non-nil slice, got %#v", got)
	}
	if Top(nil) != "" {
		t.Error("Top of empty should be empty")
	}
}

func TestPositionWeightNonIncreasing(t *testing.T) {
	prev := PositionWeight(1)
	for p := 1.0; p <= 100; p += 0.25 {
		w := PositionWeight(p)
		if w > prev {
			t.Fatalf("weight increased at %v: %v > %v", p, w, prev)
		}
		prev = w
	}
	if PositionWeight(3) <= PositionWeight(6) {
		t.Error("positions 1-5 should outweigh 6-10")
	}
}
