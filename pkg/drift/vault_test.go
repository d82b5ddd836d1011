package drift

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/phenomenon0/perp-agents/pkg/solana"
)

func testKey(fill byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = fill
	}
	return pk
}

// encodeVault lays out a vault account the way the program stores it.
func encodeVault(name string, manager, delegate solana.PublicKey) []byte {
	le := binary.LittleEndian
	netDeposits := int64(-250)
	data := append([]byte(nil), vaultDiscriminator...)

	var rawName [32]byte
	copy(rawName[:], name)
	data = append(data, rawName[:]...)

	for _, pk := range []solana.PublicKey{testKey(1), manager, testKey(3), testKey(4), testKey(5), delegate, testKey(7)} {
		data = append(data, pk[:]...)
	}

	// user_shares = 2^64 + 5, total_shares = 10
	userShares := make([]byte, 16)
	le.PutUint64(userShares, 5)
	le.PutUint64(userShares[8:], 1)
	data = append(data, userShares...)
	totalShares := make([]byte, 16)
	le.PutUint64(totalShares, 10)
	data = append(data, totalShares...)

	data = le.AppendUint64(data, uint64(1700000000))  // last_fee_update_ts
	data = le.AppendUint64(data, 0)                   // liquidation_start_ts
	data = le.AppendUint64(data, 86400)               // redeem_period
	data = le.AppendUint64(data, 0)                   // total_withdraw_requested
	data = le.AppendUint64(data, 1_000_000_000_000)   // max_tokens
	data = le.AppendUint64(data, 20_000)              // management_fee
	data = le.AppendUint64(data, 1690000000)          // init_ts
	data = le.AppendUint64(data, uint64(netDeposits)) // net_deposits
	for i := 0; i < 6; i++ {
		data = le.AppendUint64(data, uint64(i))
	}
	data = le.AppendUint64(data, 0)         // manager_total_profit_share
	data = le.AppendUint64(data, 1_000_000) // min_deposit_amount
	data = append(data, make([]byte, 32)...)
	data = le.AppendUint32(data, 0)       // shares_base
	data = le.AppendUint32(data, 200_000) // profit_share
	data = le.AppendUint32(data, 0)       // hurdle_rate
	data = le.AppendUint16(data, 0)       // spot_market_index
	data = append(data, 254, 1)           // bump, permissioned
	return append(data, make([]byte, 72)...)
}

func TestDecodeVault(t *testing.T) {
	manager, delegate := testKey(2), testKey(6)
	data := encodeVault("jimmy vault\x00\x00", manager, delegate)
	if len(data) != vaultMinSize+72 {
		t.Fatalf("Test layout is %d bytes, want %d", len(data), vaultMinSize+72)
	}

	v, err := DecodeVault(data)
	if err != nil {
		t.Fatalf("DecodeVault failed: %v", err)
	}
	if v.Name != "jimmy vault" {
		t.Errorf("Wrong name: %q", v.Name)
	}
	if v.Manager != manager || v.Delegate != delegate {
		t.Errorf("Wrong keys: manager %s delegate %s", v.Manager, v.Delegate)
	}
	if v.UserShares.String() != "18446744073709551621" {
		t.Errorf("Wrong user_shares: %s", v.UserShares)
	}
	if v.TotalShares.String() != "10" {
		t.Errorf("Wrong total_shares: %s", v.TotalShares)
	}
	if v.NetDeposits != -250 || v.RedeemPeriod != 86400 || v.MinDepositAmount != 1_000_000 {
		t.Errorf("Wrong amounts: %+v", v)
	}
	if v.ProfitShare != 200_000 || v.Bump != 254 || !v.Permissioned {
		t.Errorf("Wrong tail fields: profit_share %d bump %d permissioned %v", v.ProfitShare, v.Bump, v.Permissioned)
	}
}

func TestDecodeVaultRejects(t *testing.T) {
	data := encodeVault("v", testKey(2), testKey(6))

	if _, err := DecodeVault(data[:vaultMinSize-1]); !errors.Is(err, ErrNotVault) {
		t.Errorf("Expected ErrNotVault for short data, got %v", err)
	}

	data[0] ^= 0xff
	if _, err := DecodeVault(data); !errors.Is(err, ErrNotVault) {
		t.Errorf("Expected ErrNotVault for foreign account, got %v", err)
	}
}

func TestSelectFields(t *testing.T) {
	v, err := DecodeVault(encodeVault("v", testKey(2), testKey(6)))
	if err != nil {
		t.Fatal(err)
	}
	address := testKey(9)

	all := v.Fields(address)
	if len(all) != 32 || all[0].Name != "vault_address" || all[0].Value != address.String() {
		t.Fatalf("Wrong fields: %d, first %+v", len(all), all[0])
	}

	selected, unknown := SelectFields(all, []string{"manager", "bogus", "net_deposits"})
	if len(selected) != 2 || selected[0].Name != "manager" || selected[1].Value != "-250" {
		t.Errorf("Wrong selection: %+v", selected)
	}
	if selected[0].Value != testKey(2).String() {
		t.Errorf("Wrong manager: %s", selected[0].Value)
	}
	if len(unknown) != 1 || unknown[0] != "bogus" {
		t.Errorf("Wrong unknown fields: %v", unknown)
	}

	if selected, _ := SelectFields(all, nil); len(selected) != len(all) {
		t.Errorf("Empty request should keep every field")
	}
}
