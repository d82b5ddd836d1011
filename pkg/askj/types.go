package askj

import (
	"encoding/json"
	"fmt"
)

// AgentProfile is the body of deploy and update requests.
type AgentProfile struct {
	// IsRestart restarts a running agent on update when true.
	IsRestart      *bool          `json:"is_restart,omitempty"`
	IsBacktestOnly bool           `json:"is_backtest_only"`
	Character      AgentCharacter `json:"agent_character"`
	Secret         *AgentSecret   `json:"agent_secret,omitempty"`
}

// AgentCharacter describes how an agent trades.
type AgentCharacter struct {
	AgentName    string       `json:"agent_name"`
	Description  string       `json:"description"`
	StrategyID   string       `json:"strategy_id"`
	Timeframe    string       `json:"timeframe"`
	Symbol       string       `json:"symbol"`
	Placeholders Placeholders `json:"placeholders"`

	// Bars to backtest; the service caps this at 10.
	BackStep     uint32  `json:"back_step"`
	TrainingStep *uint32 `json:"training_step"`

	ShortTermPastDateRange     uint32 `json:"short_term_past_date_range"`
	MediumTermPastDateRange    uint32 `json:"medium_term_past_date_range"`
	LongTermPastDateRange      uint32 `json:"long_term_past_date_range"`
	ShortTermNextDateRange     uint32 `json:"short_term_next_date_range"`
	MediumTermNextDateRange    uint32 `json:"medium_term_next_date_range"`
	LongTermNextDateRange      uint32 `json:"long_term_next_date_range"`
	PreviousActionLookBackDays uint32 `json:"previous_action_look_back_days"`
	TopK                       uint32 `json:"top_k"`
}

// Placeholders are prompt fragments substituted by the service.
type Placeholders struct {
	UsageAskjimmyStrategy                     string `json:"usage_askjimmy_strategy,omitempty"`
	TraderPreference                          string `json:"trader_preference,omitempty"`
	DecisionPromptAnalysis                    string `json:"decision_prompt_analysis,omitempty"`
	DecisionPromptReasoning                   string `json:"decision_prompt_reasoning,omitempty"`
	DecisionPrompt                            string `json:"decision_prompt,omitempty"`
	DecisionTaskDescriptionTrading            string `json:"decision_task_description_trading,omitempty"`
	HighLevelReflectionPromptTrading          string `json:"high_level_reflection_prompt_trading,omitempty"`
	HighLevelReflectionTaskDescriptionTrading string `json:"high_level_reflection_task_description_trading,omitempty"`
	LowLevelReflectionEffectsTrading          string `json:"low_level_reflection_effects_trading,omitempty"`
	LowLevelReflectionPromptTrading           string `json:"low_level_reflection_prompt_trading,omitempty"`
	LowLevelReflectionTaskDescriptionTrading  string `json:"low_level_reflection_task_description_trading,omitempty"`
	MarketIntelligenceEffectsTrading          string `json:"market_intelligence_effects_trading,omitempty"`
	MarketIntelligenceLatestSummaryPrompt     string `json:"market_intelligence_latest_summary_prompt_trading,omitempty"`
	MarketIntelligencePastSummaryPrompt       string `json:"market_intelligence_past_summary_prompt_trading,omitempty"`
	MarketIntelligenceTaskDescription         string `json:"market_intelligence_task_description_tradingusage_askjimmy_strategy,omitempty"`
	ProfessionalGuidance                      string `json:"professional_guidance,omitempty"`
}

// AgentSecret carries third-party credentials used by a hosted agent.
type AgentSecret struct {
	AlphaVantageAPIKey string `json:"alphavantage_api_key"`
	AI                 struct {
		Prompt    ModelConfig `json:"prompt"`
		Embedding ModelConfig `json:"embedding"`
	} `json:"ai"`
}

// ModelConfig selects a model provider.
type ModelConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
}

// Vault is the on-chain vault attached to an agent.
type Vault struct {
	Address   string `json:"vault_address,omitempty"`
	Name      string `json:"vault_name,omitempty"`
	Delegator string `json:"vault_delegator,omitempty"`
	Status    string `json:"status,omitempty"`
	TxHash    string `json:"txhash,omitempty"`
}

// VaultAssignment links an existing vault to an agent.
type VaultAssignment struct {
	TxHash       string `json:"txhash"`
	VaultName    string `json:"vault_name"`
	VaultAddress string `json:"vault_address"`
}

// AgentStatus is the lifecycle state reported by the service.
type AgentStatus struct {
	// Status is one of created, updated, running, completed, stopped.
	Status    string      `json:"status"`
	LastError *AgentError `json:"last_error,omitempty"`
	LastTime  string      `json:"lasttime,omitempty"`
	StepIn    *int        `json:"step_in,omitempty"`
}

// AgentError is the last error an agent hit.
type AgentError struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// AgentDetail is the owner's view of an agent profile.
type AgentDetail struct {
	IsBacktestOnly bool           `json:"is_backtest_only"`
	Profile        AgentCharacter `json:"agent_profile"`
	Status         AgentStatus    `json:"status"`
	Vault          *Vault         `json:"vault,omitempty"`
	Secret         *AgentSecret   `json:"secret,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

// Agent is a public listing entry with performance metrics. Performance
// payloads are passed through as the service returns them.
type Agent struct {
	ID                  string          `json:"id,omitempty"`
	Profile             AgentCharacter  `json:"agent_profile"`
	Vault               *Vault          `json:"vault,omitempty"`
	Status              AgentStatus     `json:"status"`
	Owner               string          `json:"owner"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
	PerformanceSimulate json.RawMessage `json:"performance_simulate,omitempty"`
	PerformanceVault    json.RawMessage `json:"performance_vault,omitempty"`
}

// TradingRecord is one agent decision. Rates are fractions: 0.1 is 10%.
type TradingRecord struct {
	Symbol         string  `json:"symbol"`
	Day            string  `json:"day"`
	Value          float64 `json:"value"`
	Cash           float64 `json:"cash"`
	Position       float64 `json:"position"`
	Return         float64 `json:"ret"`
	Price          float64 `json:"price"`
	TotalProfit    float64 `json:"total_profit"`
	TotalReturn    float64 `json:"total_return"`
	FloatingProfit float64 `json:"floating_profit"`
	OpenPrice      float64 `json:"open_price"`
	// Action is BUY, SELL, EXIT or HOLD.
	Action    string `json:"action"`
	Reasoning string `json:"reasoning"`
}

// AgentTrading extends Agent with trading records.
type AgentTrading struct {
	Profile             AgentCharacter  `json:"agent_profile"`
	Vault               *Vault          `json:"vault,omitempty"`
	Status              AgentStatus     `json:"status"`
	Owner               string          `json:"owner"`
	CreatedAt           string          `json:"created_at"`
	UpdatedAt           string          `json:"updated_at"`
	PerformanceSimulate json.RawMessage `json:"performance_simulate,omitempty"`
	PerformanceVault    json.RawMessage `json:"performance_vault,omitempty"`
	TradingSimulate     []TradingRecord `json:"trading_simulate"`
	TradingVault        []TradingRecord `json:"trading_vault"`
}

// Memory is a stored reasoning note.
type Memory struct {
	Reasoning string `json:"reasoning"`
	CreatedAt string `json:"created_at"`
}

// Performance is the monitor detail response.
type Performance struct {
	Agent    AgentTrading `json:"agent_detail"`
	Memories []Memory     `json:"memories"`
}

// LastTrades is the monitor last-trades response.
type LastTrades struct {
	Trades   []TradingRecord `json:"trades"`
	Memories []Memory        `json:"memories"`
}

// ListFilter narrows ListAgents.
type ListFilter struct {
	Owner          string
	IsBacktestOnly *bool
}

// LastTradesFilter narrows LastTrades.
type LastTradesFilter struct {
	IsSimulated *bool
	// Since is a unix timestamp in seconds.
	Since *int64
	LastK *int
}

// APIError is a non-success response. The service reports failures as
// {"error": "..."}.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("askj error %d: %s", e.StatusCode, e.Message)
}

type sampleMessage struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	PublicKey string `json:"publicKey"`
	Nonce     int64  `json:"nonce"`
}

type loginRequest struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	Nonce     int64  `json:"nonce"`
}

type loginResponse struct {
	Token            string `json:"token"`
	ExpiresInSeconds int64  `json:"expiresInSeconds"`
}
