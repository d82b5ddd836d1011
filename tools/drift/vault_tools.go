package drift

import (
	"context"
	"fmt"
	"strings"

	"github.com/phenomenon0/perp-agents/core"
	api "github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/solana"
)

// AccountReader fetches raw on-chain account data. *solana.RPCClient
// satisfies it.
type AccountReader interface {
	AccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

// VaultInfoTool decodes a Drift vault account.
type VaultInfoTool struct {
	accounts AccountReader
	vault    solana.PublicKey
}

type VaultInfoInput struct {
	VaultAddress    string   `json:"vault_address"`
	RequestedFields []string `json:"requested_fields"`
}

type VaultInfoOutput struct {
	VaultAddress  string           `json:"vault_address"`
	Fields        []api.VaultField `json:"fields"`
	UnknownFields []string         `json:"unknown_fields,omitempty"`
	Text          string           `json:"text"`
}

// NewVaultInfoTool returns the vault tool. vault is used when a call names
// no address; it may be zero.
func NewVaultInfoTool(accounts AccountReader, vault solana.PublicKey) *VaultInfoTool {
	return &VaultInfoTool{accounts: accounts, vault: vault}
}

func (t *VaultInfoTool) Name() string {
	return "drift_vault_info"
}

func (t *VaultInfoTool) Description() string {
	return "Fetch Drift vault information: vault_address, name, manager, token_account, user_stats, user, delegate, " +
		"liquidation_delegate, user_shares, total_shares, last_fee_update_ts, liquidation_start_ts, redeem_period, " +
		"total_withdraw_requested, max_tokens, management_fee, init_ts, net_deposits, manager_net_deposits, " +
		"total_deposits, total_withdraws, manager_total_deposits, manager_total_withdraws, manager_total_fee, " +
		"manager_total_profit_share, min_deposit_amount, shares_base, profit_share, hurdle_rate, spot_market_index, " +
		"bump, permissioned. Defaults to the agent's own vault."
}

func (t *VaultInfoTool) InputSchema() []byte {
	return []byte(`{
		"type": "object",
		"properties": {
			"vault_address": {"type": "string", "description": "The public key of the vault"},
			"requested_fields": {"type": "array", "items": {"type": "string"}, "description": "List of fields to retrieve"}
		}
	}`)
}

func (t *VaultInfoTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input VaultInfoInput
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}

	address := t.vault
	if input.VaultAddress != "" {
		pk, err := solana.ParsePublicKey(input.VaultAddress)
		if err != nil {
			return errorResult(fmt.Errorf("vault_address: %w", err))
		}
		address = pk
	}
	if address.IsZero() {
		return errorResult(fmt.Errorf("vault_address is required when no agent vault is configured"))
	}

	ctx, cancel := context.WithTimeout(tc.Ctx, toolTimeout)
	defer cancel()

	data, err := t.accounts.AccountData(ctx, address)
	if err != nil {
		return errorResult(fmt.Errorf("fetch vault: %w", err))
	}
	vault, err := api.DecodeVault(data)
	if err != nil {
		return errorResult(fmt.Errorf("vault %s: %w", address, err))
	}

	fields, unknown := api.SelectFields(vault.Fields(address), input.RequestedFields)

	var sb strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&sb, "%s: %s\n", f.Name, f.Value)
	}
	return core.Complete(VaultInfoOutput{
		VaultAddress:  address.String(),
		Fields:        fields,
		UnknownFields: unknown,
		Text:          sb.String(),
	})
}
