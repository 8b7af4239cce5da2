// Package budget implements the Cost/Budget Ledger:
// write-ahead provisional token tracking, finalize/void lifecycle,
// cache-aware cost estimation, and per-chat/day/project budget gates.
package budget

import "time"

// TokenRecord is one provisional-or-final usage row, dual-written to an
// operational table (joined to chats, deleted with them) and a permanent
// ledger (never deleted). Store implementations own the dual-write.
type TokenRecord struct {
	StepID       string    `json:"stepId"`
	ChatID       string    `json:"chatId"`
	ProjectID    string    `json:"projectId"`
	AgentKey     string    `json:"agentKey"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	HashedAPIKey string    `json:"hashedApiKey"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	CacheCreate  int       `json:"cacheCreateTokens"`
	CacheRead    int       `json:"cacheReadTokens"`
	Estimated    bool      `json:"estimated"`
	CostUSD      float64   `json:"costUsd"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Gate is the result of a budget check: allowed unless the
// limit is exceeded, with an 80%-threshold warning surfaced separately.
type Gate struct {
	Allowed       bool
	Warning       string
	CurrentTokens float64
	Limit         float64
}

// warningThreshold is the fraction of a limit at which a Gate carries a
// warning without yet disallowing the call.
const warningThreshold = 0.8

func gateFor(current, limit float64) Gate {
	if limit <= 0 {
		return Gate{Allowed: true, CurrentTokens: current, Limit: limit}
	}
	g := Gate{CurrentTokens: current, Limit: limit, Allowed: current < limit}
	if current >= limit*warningThreshold {
		g.Warning = "Token limit reached: approaching or exceeding the configured budget"
	}
	if !g.Allowed {
		g.Warning = "Token limit reached: budget exceeded"
	}
	return g
}
