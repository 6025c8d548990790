package retrieval

import (
	"reflect"
	"testing"
)

func TestAnalyzeIntent(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Intent
	}{
		{"position", "What is the government's position on seabed mining?", IntentPosition},
		{"stance counts as position", "Prime Minister's stance on climate change", IntentPosition},
		{"timeline", "When did parliament first consider the fisheries bill?", IntentTimeline},
		{"comparison", "Compare the budget debates of 2022 and 2023", IntentComparison},
		{"factual", "What is the Marine Resources Act?", IntentFactual},
		{"general fallback", "Tell me about tourism developments", IntentGeneral},
		{"position outranks factual", "What is the official position on nodule harvesting?", IntentPosition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Analyze(tt.query).Intent; got != tt.want {
				t.Errorf("Analyze(%q).Intent = %s, want %s", tt.query, got, tt.want)
			}
		})
	}
}

func TestAnalyzeEntities(t *testing.T) {
	a := Analyze("What has been said about deep sea mining and tuna quotas?")
	want := []string{"seabed mining", "fisheries"}
	if !reflect.DeepEqual(a.Entities, want) {
		t.Errorf("entities = %v, want %v", a.Entities, want)
	}

	// Expanded terms are the concatenated synonym lists of matched
	// entities, in dictionary order.
	if len(a.ExpandedTerms) == 0 {
		t.Fatal("expected expanded terms for matched entities")
	}
	if a.ExpandedTerms[0] != "deep sea mining" {
		t.Errorf("first expanded term = %q, want first synonym of first entity", a.ExpandedTerms[0])
	}
}

func TestAnalyzeNoEntities(t *testing.T) {
	a := Analyze("What happened during question time yesterday?")
	if len(a.Entities) != 0 {
		t.Errorf("unexpected entities: %v", a.Entities)
	}
	if len(a.ExpandedTerms) != 0 {
		t.Errorf("unexpected expanded terms: %v", a.ExpandedTerms)
	}
}

func TestAnalyzeTopics(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"seabed minerals exploration debate", []string{"mining"}},
		{"climate and ocean conservation", []string{"environment"}},
		{"tax revenue and the appropriation bill", []string{"economy"}},
		{"transparency in the electoral process", []string{"governance"}},
		{"regional treaty with the united nations", []string{"international"}},
		{"mining royalties in the budget", []string{"mining", "economy"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := Analyze(tt.query).Topics; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("topics = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeAuthorityLevel(t *testing.T) {
	tests := []struct {
		query string
		want  AuthorityLevel
	}{
		{"What did the minister announce?", AuthorityOfficial},
		{"government policy on land", AuthorityOfficial},
		{"summarize the debate on health funding", AuthorityDiscussion},
		{"members' opinion of the amendment", AuthorityDiscussion},
		{"hospital waiting lists", AuthorityAny},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := Analyze(tt.query).AuthorityLevel; got != tt.want {
				t.Errorf("authority = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAnalyzeTimeIndicators(t *testing.T) {
	a := Analyze("What changed between 2019 and 2023, and recently?")
	want := []string{"2019", "2023", "recent", "recently"}
	if !reflect.DeepEqual(a.TimeIndicators, want) {
		t.Errorf("time indicators = %v, want %v", a.TimeIndicators, want)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	const q = "government position on deep sea mining since 2021"
	first := Analyze(q)
	for i := 0; i < 10; i++ {
		if again := Analyze(q); !reflect.DeepEqual(first, again) {
			t.Fatalf("analysis differed on run %d: %+v vs %+v", i, first, again)
		}
	}
}
