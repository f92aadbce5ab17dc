package assemble

import "strings"

// Tier selects how much of an agent's working memory a context bundle
// carries. Increasing tiers trade payload size for completeness.
type Tier string

const (
	// TierHot is identity, unread messages, the active handoff, and
	// guardrail entities. Never truncated, never omitted for budget.
	TierHot Tier = "hot"
	// TierWarm adds the project summary, recent decisions, and open
	// items. Default for session start.
	TierWarm Tier = "warm"
	// TierCold adds every observation and full entity content for the
	// project. Requested explicitly.
	TierCold Tier = "cold"
)

// TierValues returns the enum values for tool definitions.
func TierValues() []string {
	return []string{string(TierHot), string(TierWarm), string(TierCold)}
}

// ParseTier normalizes a tier string, defaulting to warm for empty or
// unrecognized values.
func ParseTier(s string) Tier {
	switch t := Tier(strings.ToLower(s)); t {
	case TierHot, TierCold:
		return t
	default:
		return TierWarm
	}
}

// EstimateTokens approximates the token count of serialized text using the
// chars/4 heuristic. Returns 0 for empty input, at least 1 otherwise.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	tokens := (n + 3) / 4
	if tokens == 0 {
		return 1
	}
	return tokens
}
