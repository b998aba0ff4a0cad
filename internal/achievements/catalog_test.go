package achievements

import (
	"errors"
	"testing"
)

func TestDefaultCatalogLoadsEmbeddedDefinitions(t *testing.T) {
	catalog, err := Default()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}
	all := catalog.All()
	if len(all) == 0 {
		t.Fatalf("expected embedded achievements")
	}
	for index := 1; index < len(all); index++ {
		if all[index-1].ID >= all[index].ID {
			t.Fatalf("expected ascending ids, got %d before %d", all[index-1].ID, all[index].ID)
		}
	}
	achievement, err := catalog.Lookup(18)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if achievement.Name != "Italian Ambition" {
		t.Fatalf("unexpected achievement %+v", achievement)
	}
}

func TestLookupUnknownAchievement(t *testing.T) {
	catalog, err := Parse([]byte("- id: 1\n  name: One\n  difficulty: Easy\n"))
	if err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if _, err := catalog.Lookup(2); !errors.Is(err, ErrUnknownAchievement) {
		t.Fatalf("expected unknown achievement error, got %v", err)
	}
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	testCases := []struct {
		name     string
		document string
	}{
		{name: "duplicate-id", document: "- id: 1\n  name: A\n- id: 1\n  name: B\n"},
		{name: "missing-name", document: "- id: 3\n"},
		{name: "non-positive-id", document: "- id: 0\n  name: Zero\n"},
		{name: "malformed", document: "id: [\n"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Parse([]byte(testCase.document)); err == nil {
				t.Fatalf("expected parse failure")
			}
		})
	}
}
