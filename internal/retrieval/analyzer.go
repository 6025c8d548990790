package retrieval

import (
	"regexp"
	"strings"
)

// Intent classifies what shape of answer a query is after.
type Intent string

const (
	IntentPosition   Intent = "position"
	IntentTimeline   Intent = "timeline"
	IntentComparison Intent = "comparison"
	IntentFactual    Intent = "factual"
	IntentGeneral    Intent = "general"
)

// AuthorityLevel indicates whether the query is after official statements,
// floor debate, or anything.
type AuthorityLevel string

const (
	AuthorityOfficial   AuthorityLevel = "official"
	AuthorityDiscussion AuthorityLevel = "discussion"
	AuthorityAny        AuthorityLevel = "any"
)

// Analysis is the deterministic decomposition of a query used to drive the
// multi-pass retriever.
type Analysis struct {
	Intent         Intent
	Entities       []string
	Topics         []string
	TimeIndicators []string
	AuthorityLevel AuthorityLevel
	ExpandedTerms  []string
}

// Intent rules are checked in order; the first rule with a keyword present
// in the lowercased query wins.
var intentRules = []struct {
	intent   Intent
	keywords []string
}{
	{IntentPosition, []string{"position", "stance", "view on", "opinion on", "stand on", "attitude toward"}},
	{IntentTimeline, []string{"when", "timeline", "history of", "over time", "chronology", "how long"}},
	{IntentComparison, []string{"compare", "comparison", "difference between", "versus", " vs ", "contrast"}},
	{IntentFactual, []string{"what is", "what are", "who is", "who are", "how many", "how much", "define"}},
}

// knownTerms maps recurring Hansard subjects to the synonyms members use
// for them on the floor. Order fixes the order of matched entities.
var knownTerms = []struct {
	term     string
	synonyms []string
}{
	{"seabed mining", []string{"deep sea mining", "deep-sea mining", "seabed minerals", "polymetallic nodules", "nodule harvesting"}},
	{"climate change", []string{"global warming", "sea level rise", "climate crisis", "climate emergency"}},
	{"fisheries", []string{"fishing", "tuna", "fish stocks", "exclusive economic zone", "purse seine"}},
	{"budget", []string{"appropriation", "estimates", "public expenditure", "fiscal policy"}},
	{"tourism", []string{"visitor industry", "hospitality sector", "tourist arrivals"}},
	{"education", []string{"schools", "curriculum", "scholarships", "tertiary"}},
	{"health", []string{"hospital", "public health", "medical services", "healthcare"}},
	{"land", []string{"land tenure", "customary land", "land lease", "land court"}},
	{"infrastructure", []string{"roads", "ports", "airports", "public works"}},
	{"constitution", []string{"constitutional amendment", "constitutional review", "supreme law"}},
}

var topicKeywords = []struct {
	topic    string
	keywords []string
}{
	{"mining", []string{"mining", "minerals", "seabed", "nodules", "extraction", "exploration licence"}},
	{"environment", []string{"environment", "climate", "conservation", "pollution", "biodiversity", "ocean"}},
	{"economy", []string{"economy", "budget", "tax", "trade", "investment", "revenue", "appropriation"}},
	{"governance", []string{"governance", "corruption", "transparency", "accountability", "election", "electoral"}},
	{"international", []string{"international", "treaty", "foreign", "regional", "pacific islands forum", "united nations"}},
}

// authorityIndicators feed the authority retrieval pass and the rerank
// bonus for official-level queries.
var authorityIndicators = map[AuthorityLevel][]string{
	AuthorityOfficial:   {"minister", "government", "official statement", "cabinet", "policy"},
	AuthorityDiscussion: {"debate", "discussion", "committee", "members"},
	AuthorityAny:        {"statement", "remarks"},
}

var officialLevelKeywords = []string{"government", "official", "minister", "policy"}
var discussionLevelKeywords = []string{"discussion", "debate", "opinion"}

var yearRe = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)

var relativeTimeTerms = []string{"recent", "recently", "last year", "this year", "latest", "current session"}

// Analyze maps a query string to its Analysis. The mapping is pure: the
// same query always yields the same result.
func Analyze(query string) Analysis {
	q := strings.ToLower(query)

	a := Analysis{
		Intent:         IntentGeneral,
		AuthorityLevel: AuthorityAny,
	}

	for _, rule := range intentRules {
		if containsAny(q, rule.keywords) {
			a.Intent = rule.intent
			break
		}
	}

	for _, entry := range knownTerms {
		if strings.Contains(q, entry.term) || containsAny(q, entry.synonyms) {
			a.Entities = append(a.Entities, entry.term)
			a.ExpandedTerms = append(a.ExpandedTerms, entry.synonyms...)
		}
	}

	for _, entry := range topicKeywords {
		if containsAny(q, entry.keywords) {
			a.Topics = append(a.Topics, entry.topic)
		}
	}

	a.TimeIndicators = append(a.TimeIndicators, yearRe.FindAllString(q, -1)...)
	for _, term := range relativeTimeTerms {
		if strings.Contains(q, term) {
			a.TimeIndicators = append(a.TimeIndicators, term)
		}
	}

	if containsAny(q, officialLevelKeywords) {
		a.AuthorityLevel = AuthorityOfficial
	} else if containsAny(q, discussionLevelKeywords) {
		a.AuthorityLevel = AuthorityDiscussion
	}

	return a
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
