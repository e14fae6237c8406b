package reason

import "strings"

// Indicator terms that mark comparison or relationship questions.
var multiHopIndicators = []string{
	"compare",
	"difference between",
	"relationship between",
	"versus",
	"what is the connection",
	"leads to",
	"causes",
	"as a result",
}

const wordCountThreshold = 15

// Select picks the answering strategy for a query. When override is
// non-nil it wins unconditionally. Otherwise cheap text heuristics
// decide: an indicator term or a long query means multi-hop. Pure
// function, no model calls.
func Select(query string, override *bool) Strategy {
	if override != nil {
		if *override {
			return StrategyMultiHop
		}
		return StrategySimple
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return StrategySimple
	}
	lower := strings.ToLower(trimmed)

	for _, ind := range multiHopIndicators {
		if strings.Contains(lower, ind) {
			return StrategyMultiHop
		}
	}

	if len(strings.Fields(trimmed)) > wordCountThreshold {
		return StrategyMultiHop
	}

	return StrategySimple
}
