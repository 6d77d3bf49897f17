package models

import "testing"

// Every enum value must have a distinct, non-empty display mapping. These
// tests fail when a new enum value is added without extending the mapping.

func TestCategoryDisplayComplete(t *testing.T) {
	seen := map[string]Category{}
	for _, c := range Categories() {
		info := CategoryDisplay(c)
		if info.Label == "" || info.Color == "" || info.Department == "" {
			t.Errorf("category %q has incomplete display info: %+v", c, info)
		}
		if prev, ok := seen[info.Label]; ok {
			t.Errorf("categories %q and %q share label %q", prev, c, info.Label)
		}
		seen[info.Label] = c
	}
}

func TestSeverityDisplayComplete(t *testing.T) {
	ranks := map[int]Severity{}
	for _, s := range Severities() {
		info := SeverityDisplay(s)
		if info.Label == "" || info.Color == "" {
			t.Errorf("severity %q has incomplete display info: %+v", s, info)
		}
		if info.Rank <= 0 {
			t.Errorf("severity %q has non-positive rank %d", s, info.Rank)
		}
		if prev, ok := ranks[info.Rank]; ok {
			t.Errorf("severities %q and %q share rank %d", prev, s, info.Rank)
		}
		ranks[info.Rank] = s
	}
}

func TestStatusDisplayComplete(t *testing.T) {
	for _, st := range Statuses() {
		info := StatusDisplay(st)
		if info.Label == "" || info.Color == "" {
			t.Errorf("status %q has incomplete display info: %+v", st, info)
		}
	}
}

func TestCategoryValid(t *testing.T) {
	testCases := []struct {
		category Category
		valid    bool
	}{
		{CategoryRoads, true},
		{CategoryLighting, true},
		{CategoryWater, true},
		{CategoryCleanliness, true},
		{CategoryObstructions, true},
		{CategorySafety, true},
		{Category("skyscraper"), false},
		{Category(""), false},
		{Category("null"), false},
		{Category("Roads"), false},
	}

	for _, tc := range testCases {
		if got := tc.category.Valid(); got != tc.valid {
			t.Errorf("Category(%q).Valid() = %v, want %v", tc.category, got, tc.valid)
		}
	}
}

func TestAnalysisResponseRelevant(t *testing.T) {
	f := false
	tr := true

	if (&AnalysisResponse{IsRelevant: &f}).Relevant() {
		t.Error("explicit is_relevant=false must not be relevant")
	}
	if !(&AnalysisResponse{IsRelevant: &tr}).Relevant() {
		t.Error("explicit is_relevant=true must be relevant")
	}
	// An omitted field is not a rejection.
	if !(&AnalysisResponse{}).Relevant() {
		t.Error("absent is_relevant must be treated as relevant")
	}
}
