package session

// Matcher decides whether two field identifiers denote the same underlying
// input. It is an equivalence heuristic, not strict equality; a stricter
// strategy can be substituted without touching the store or engine.
type Matcher interface {
	Matches(a, b FieldIdentifier) bool
}

// HeuristicMatcher matches by priority-ordered attribute comparison:
// a shared non-empty id wins, then a shared non-empty name, then selector
// equality. Selector collisions between genuinely different elements are a
// known limitation of the last rule.
type HeuristicMatcher struct{}

// Matches implements Matcher.
func (HeuristicMatcher) Matches(a, b FieldIdentifier) bool {
	if a.ID != "" && b.ID != "" && a.ID == b.ID {
		return true
	}
	if a.Name != "" && b.Name != "" && a.Name == b.Name {
		return true
	}
	return a.Selector == b.Selector
}
