package drift

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/phenomenon0/perp-agents/core"
	"github.com/phenomenon0/perp-agents/pkg/solana"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// discriminator returns the 8-byte Anchor instruction tag for name.
func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// CollateralArgs are the arguments shared by the deposit and withdraw
// instructions.
type CollateralArgs struct {
	Amount           uint64 `json:"amount"`
	SpotMarketIndex  uint16 `json:"spot_market_index"`
	UserTokenAccount string `json:"user_token_account"`
	ReduceOnly       bool   `json:"reduce_only"`
}

// EncodeCollateralInstruction builds instruction data for deposit or
// withdraw: the discriminator followed by market_index (u16), amount (u64)
// and reduce_only (bool), little endian.
func EncodeCollateralInstruction(name string, args CollateralArgs) []byte {
	data := make([]byte, 0, 8+2+8+1)
	data = append(data, discriminator(name)...)
	data = binary.LittleEndian.AppendUint16(data, args.SpotMarketIndex)
	data = binary.LittleEndian.AppendUint64(data, args.Amount)
	if args.ReduceOnly {
		data = append(data, 1)
	} else {
		data = append(data, 0)
	}
	return data
}

// InstructionOutput is hex-encoded instruction data for a wallet to sign.
type InstructionOutput struct {
	Instruction      string `json:"instruction"`
	Data             string `json:"data"`
	SpotMarketIndex  uint16 `json:"spot_market_index"`
	Amount           uint64 `json:"amount"`
	UserTokenAccount string `json:"user_token_account"`
}

// collateralTool generates deposit or withdraw instruction data.
type collateralTool struct {
	instruction string
	description string
}

// NewDepositTool returns the deposit instruction tool.
func NewDepositTool() core.Tool {
	return &collateralTool{
		instruction: "deposit",
		description: "Generate transaction data for a Drift collateral deposit.",
	}
}

// NewWithdrawTool returns the withdraw instruction tool.
func NewWithdrawTool() core.Tool {
	return &collateralTool{
		instruction: "withdraw",
		description: "Generate transaction data for a Drift collateral withdrawal.",
	}
}

func (t *collateralTool) Name() string {
	return t.instruction
}

func (t *collateralTool) Description() string {
	return t.description
}

func (t *collateralTool) InputSchema() []byte {
	return []byte(fmt.Sprintf(`{
		"type": "object",
		"properties": {
			"amount": {"type": "integer", "description": "Amount to %s in the spot market's native precision"},
			"spot_market_index": {"type": "integer", "description": "Spot market index"},
			"user_token_account": {"type": "string", "description": "User's token account public key"},
			"reduce_only": {"type": "boolean", "description": "Reduce-only flag"}
		},
		"required": ["amount", "spot_market_index", "user_token_account"]
	}`, t.instruction))
}

func (t *collateralTool) Execute(tc *core.ToolContext) *core.ToolExecResult {
	var input CollateralArgs
	if err := tc.Request.Decode(&input); err != nil {
		return errorResult(err)
	}
	if input.Amount == 0 {
		return errorResult(fmt.Errorf("amount must be positive"))
	}
	if _, err := solana.ParsePublicKey(input.UserTokenAccount); err != nil {
		return errorResult(fmt.Errorf("user_token_account: %w", err))
	}

	return core.Complete(InstructionOutput{
		Instruction:      t.instruction,
		Data:             hexutil.Encode(EncodeCollateralInstruction(t.instruction, input)),
		SpotMarketIndex:  input.SpotMarketIndex,
		Amount:           input.Amount,
		UserTokenAccount: input.UserTokenAccount,
	})
}
