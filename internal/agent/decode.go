package agent

import (
	"encoding/json"
	"strings"

	"github.com/aristath/arena-engine/internal/domain"
	"github.com/aristath/arena-engine/internal/llm"
)

// rawDecision mirrors the shapes an LLM actually returns: codes under any
// of three key names, amounts as either a number or a numeric string, and
// an optional nested exit plan. Every field is optional; decodeDecisions
// fills in what it can and drops what it can't resolve.
type rawDecision struct {
	Code            string      `json:"code"`
	StockCode       string      `json:"stock_code"`
	Stock           string      `json:"stock"`
	Action          string      `json:"action"`
	Amount          json.Number `json:"amount"`
	SuggestedAmount json.Number `json:"suggested_amount"`
	Reason          string      `json:"reason"`
	Confidence      float64     `json:"confidence"`
	ExpectedDays    int         `json:"expected_days"`
	ExitPlan        *struct {
		ProfitTarget float64 `json:"profit_target"`
		StopLoss     float64 `json:"stop_loss"`
		Invalidation string  `json:"invalidation"`
	} `json:"exit_plan"`
}

func (r rawDecision) code() string {
	for _, c := range []string{r.Code, r.StockCode, r.Stock} {
		if c != "" {
			return c
		}
	}
	return ""
}

func (r rawDecision) amount() int64 {
	for _, n := range []json.Number{r.Amount, r.SuggestedAmount} {
		if n != "" {
			if v, err := n.Int64(); err == nil {
				return v
			}
			if f, err := n.Float64(); err == nil {
				return int64(f)
			}
		}
	}
	return 0
}

// decodeDecisions extracts and parses a JSON array of decisions out of raw
// LLM text. codeForName resolves a holding's display name back to its code
// when the model names the stock instead of quoting its code; singleCode,
// when non-empty, is substituted for any decision whose code could not be
// resolved at all and there is exactly one holding to infer from.
func decodeDecisions(raw string, codeForName map[string]string, singleCode string) ([]rawDecision, error) {
	extracted, err := llm.ExtractJSON(raw)
	if err != nil {
		return nil, err
	}

	var decisions []rawDecision
	if err := json.Unmarshal(extracted, &decisions); err != nil {
		// Some models wrap the array in a top-level object, e.g. {"decisions": [...]}.
		var wrapped struct {
			Decisions []rawDecision `json:"decisions"`
		}
		if err2 := json.Unmarshal(extracted, &wrapped); err2 != nil {
			return nil, err
		}
		decisions = wrapped.Decisions
	}

	for i := range decisions {
		if decisions[i].Code != "" || decisions[i].StockCode != "" {
			continue
		}
		if name := strings.TrimSpace(decisions[i].Stock); name != "" {
			if code, ok := codeForName[name]; ok {
				decisions[i].Code = code
			}
			continue
		}
		if singleCode != "" {
			decisions[i].Code = singleCode
		}
	}

	return decisions, nil
}

// toDecision converts a resolved rawDecision into the pipeline's Decision
// type, normalizing amount to a round lot of 100 shares.
func toDecision(r rawDecision) Decision {
	d := Decision{
		Code:         r.code(),
		Amount:       roundToLot(r.amount()),
		Reason:       r.Reason,
		Confidence:   r.Confidence,
		ExpectedDays: r.ExpectedDays,
	}
	if r.ExitPlan != nil {
		d.ExitPlan = domain.ExitPlan{
			ProfitTarget: r.ExitPlan.ProfitTarget,
			StopLoss:     r.ExitPlan.StopLoss,
			Invalidation: r.ExitPlan.Invalidation,
			ExpectedDays: r.ExpectedDays,
		}
	}
	return d
}

func roundToLot(amount int64) int64 {
	return (amount / 100) * 100
}
