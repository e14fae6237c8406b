package reason

import "testing"

func boolPtr(b bool) *bool { return &b }

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		override *bool
		want     Strategy
	}{
		{"empty query", "", nil, StrategySimple},
		{"whitespace only", "   \t ", nil, StrategySimple},
		{"short factual", "Who wrote Dune?", nil, StrategySimple},
		{"compare indicator", "Compare solar and wind power", nil, StrategyMultiHop},
		{"difference indicator", "What is the difference between TCP and UDP?", nil, StrategyMultiHop},
		{"relationship indicator", "Explain the relationship between inflation and unemployment", nil, StrategyMultiHop},
		{"versus indicator", "Rust versus Go for systems work", nil, StrategyMultiHop},
		{"indicator is case-insensitive", "COMPARE the two engines", nil, StrategyMultiHop},
		{
			"long query",
			"Tell me about the history of the company that built the first transatlantic cable and how its founders got started",
			nil,
			StrategyMultiHop,
		},
		{"short no indicators", "Summarize the report", nil, StrategySimple},
		{"override forces multi-hop", "Who wrote Dune?", boolPtr(true), StrategyMultiHop},
		{"override forces simple", "Compare solar and wind power", boolPtr(false), StrategySimple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Select(tt.query, tt.override); got != tt.want {
				t.Errorf("Select(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestStrategyString(t *testing.T) {
	if StrategySimple.String() != "simple" {
		t.Errorf("got %q", StrategySimple.String())
	}
	if StrategyMultiHop.String() != "multi_hop" {
		t.Errorf("got %q", StrategyMultiHop.String())
	}
}
