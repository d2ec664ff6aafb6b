package domain

import "fmt"

// League is a competition; its id is the group id used to batch odds fetches.
type League struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country,omitempty"`
	Logo    string `json:"logo,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Bookmaker is an odds provider.
type Bookmaker struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Logo      string `json:"logo,omitempty"`
	IsDefault bool   `json:"is_default,omitempty"`
}

// Strategy selects the remote analysis profile.
type Strategy string

const (
	StrategyBalanced     Strategy = "BALANCED"
	StrategyConservative Strategy = "CONSERVATIVE"
	StrategyValueBet     Strategy = "VALUE_BET"
	StrategyAggressive   Strategy = "AGGRESSIVE"
)

// ValidateStrategy checks that s is a known strategy.
func ValidateStrategy(s Strategy) error {
	switch s {
	case StrategyBalanced, StrategyConservative, StrategyValueBet, StrategyAggressive:
		return nil
	}
	return ErrValidation(fmt.Sprintf("unknown strategy %q", s))
}

// MarketPrediction is one market's recommendation within a prediction.
type MarketPrediction struct {
	Market           string  `json:"market"`
	PredictedOutcome string  `json:"predicted_outcome"`
	Confidence       float64 `json:"confidence"`
	Odds             float64 `json:"odds"`
	ExpectedValue    float64 `json:"expected_value"`
	Recommendation   string  `json:"recommendation"`
}

// Prediction is the opaque analysis result for one fixture.
type Prediction struct {
	ID            string             `json:"id"`
	FixtureID     string             `json:"match_id"`
	HomeTeam      string             `json:"home_team"`
	AwayTeam      string             `json:"away_team"`
	League        string             `json:"league"`
	Date          string             `json:"date"`
	Predictions   []MarketPrediction `json:"predictions"`
	StrategyUsed  string             `json:"strategy_used"`
	BookmakerID   string             `json:"bookmaker_id,omitempty"`
	BookmakerName string             `json:"bookmaker_name,omitempty"`
}
