package drift

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/phenomenon0/perp-agents/pkg/solana"

	"github.com/shopspring/decimal"
)

// ErrNotVault is returned when account data does not hold a vault.
var ErrNotVault = errors.New("not a drift vault account")

// vaultDiscriminator is the Anchor account tag of a vault.
var vaultDiscriminator = func() []byte {
	sum := sha256.Sum256([]byte("account:Vault"))
	return sum[:8]
}()

// vaultMinSize covers every field through permissioned; trailing padding
// is ignored so larger account versions still decode.
const vaultMinSize = 472

// WithdrawRequest is a pending manager withdrawal.
type WithdrawRequest struct {
	Shares decimal.Decimal `json:"shares"`
	Value  uint64          `json:"value"`
	Ts     int64           `json:"ts"`
}

// VaultAccount is a decoded Drift vault. Amounts stay in native units.
type VaultAccount struct {
	Name                    string           `json:"name"`
	Pubkey                  solana.PublicKey `json:"-"`
	Manager                 solana.PublicKey `json:"-"`
	TokenAccount            solana.PublicKey `json:"-"`
	UserStats               solana.PublicKey `json:"-"`
	User                    solana.PublicKey `json:"-"`
	Delegate                solana.PublicKey `json:"-"`
	LiquidationDelegate     solana.PublicKey `json:"-"`
	UserShares              decimal.Decimal  `json:"user_shares"`
	TotalShares             decimal.Decimal  `json:"total_shares"`
	LastFeeUpdateTs         int64            `json:"last_fee_update_ts"`
	LiquidationStartTs      int64            `json:"liquidation_start_ts"`
	RedeemPeriod            int64            `json:"redeem_period"`
	TotalWithdrawRequested  uint64           `json:"total_withdraw_requested"`
	MaxTokens               uint64           `json:"max_tokens"`
	ManagementFee           int64            `json:"management_fee"`
	InitTs                  int64            `json:"init_ts"`
	NetDeposits             int64            `json:"net_deposits"`
	ManagerNetDeposits      int64            `json:"manager_net_deposits"`
	TotalDeposits           uint64           `json:"total_deposits"`
	TotalWithdraws          uint64           `json:"total_withdraws"`
	ManagerTotalDeposits    uint64           `json:"manager_total_deposits"`
	ManagerTotalWithdraws   uint64           `json:"manager_total_withdraws"`
	ManagerTotalFee         int64            `json:"manager_total_fee"`
	ManagerTotalProfitShare uint64           `json:"manager_total_profit_share"`
	MinDepositAmount        uint64           `json:"min_deposit_amount"`
	LastManagerWithdraw     WithdrawRequest  `json:"last_manager_withdraw_request"`
	SharesBase              uint32           `json:"shares_base"`
	ProfitShare             uint32           `json:"profit_share"`
	HurdleRate              uint32           `json:"hurdle_rate"`
	SpotMarketIndex         uint16           `json:"spot_market_index"`
	Bump                    uint8            `json:"bump"`
	Permissioned            bool             `json:"permissioned"`
}

// leReader reads little-endian fields in declaration order.
type leReader struct {
	buf []byte
	off int
}

func (r *leReader) next(n int) []byte {
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *leReader) pubkey() solana.PublicKey {
	var pk solana.PublicKey
	copy(pk[:], r.next(len(pk)))
	return pk
}

func (r *leReader) u128() decimal.Decimal {
	le := r.next(16)
	be := make([]byte, 16)
	for i := range le {
		be[15-i] = le[i]
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(be), 0)
}

func (r *leReader) u64() uint64 { return binary.LittleEndian.Uint64(r.next(8)) }
func (r *leReader) i64() int64 { return int64(r.u64()) }
func (r *leReader) u32() uint32 { return binary.LittleEndian.Uint32(r.next(4)) }
func (r *leReader) u16() uint16 { return binary.LittleEndian.Uint16(r.next(2)) }
func (r *leReader) u8() uint8 { return r.next(1)[0] }

// DecodeVault decodes raw vault account data, discriminator included.
func DecodeVault(data []byte) (*VaultAccount, error) {
	if len(data) < vaultMinSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNotVault, len(data))
	}
	if !bytes.Equal(data[:8], vaultDiscriminator) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrNotVault)
	}

	r := &leReader{buf: data, off: 8}
	v := &VaultAccount{}
	v.Name = vaultName(r.next(32))
	v.Pubkey = r.pubkey()
	v.Manager = r.pubkey()
	v.TokenAccount = r.pubkey()
	v.UserStats = r.pubkey()
	v.User = r.pubkey()
	v.Delegate = r.pubkey()
	v.LiquidationDelegate = r.pubkey()
	v.UserShares = r.u128()
	v.TotalShares = r.u128()
	v.LastFeeUpdateTs = r.i64()
	v.LiquidationStartTs = r.i64()
	v.RedeemPeriod = r.i64()
	v.TotalWithdrawRequested = r.u64()
	v.MaxTokens = r.u64()
	v.ManagementFee = r.i64()
	v.InitTs = r.i64()
	v.NetDeposits = r.i64()
	v.ManagerNetDeposits = r.i64()
	v.TotalDeposits = r.u64()
	v.TotalWithdraws = r.u64()
	v.ManagerTotalDeposits = r.u64()
	v.ManagerTotalWithdraws = r.u64()
	v.ManagerTotalFee = r.i64()
	v.ManagerTotalProfitShare = r.u64()
	v.MinDepositAmount = r.u64()
	v.LastManagerWithdraw = WithdrawRequest{Shares: r.u128(), Value: r.u64(), Ts: r.i64()}
	v.SharesBase = r.u32()
	v.ProfitShare = r.u32()
	v.HurdleRate = r.u32()
	v.SpotMarketIndex = r.u16()
	v.Bump = r.u8()
	v.Permissioned = r.u8() != 0
	return v, nil
}

// vaultName keeps the printable ASCII of the fixed-size name.
func vaultName(raw []byte) string {
	var sb strings.Builder
	for _, b := range raw {
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return strings.TrimSpace(sb.String())
}

// VaultField is one named vault value rendered as text.
type VaultField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Fields lists every vault value in account order. address is reported as
// vault_address.
func (v *VaultAccount) Fields(address solana.PublicKey) []VaultField {
	i64 := func(n int64) string { return strconv.FormatInt(n, 10) }
	u64 := func(n uint64) string { return strconv.FormatUint(n, 10) }

	return []VaultField{
		{"vault_address", address.String()},
		{"name", v.Name},
		{"manager", v.Manager.String()},
		{"token_account", v.TokenAccount.String()},
		{"user_stats", v.UserStats.String()},
		{"user", v.User.String()},
		{"delegate", v.Delegate.String()},
		{"liquidation_delegate", v.LiquidationDelegate.String()},
		{"user_shares", v.UserShares.String()},
		{"total_shares", v.TotalShares.String()},
		{"last_fee_update_ts", i64(v.LastFeeUpdateTs)},
		{"liquidation_start_ts", i64(v.LiquidationStartTs)},
		{"redeem_period", i64(v.RedeemPeriod)},
		{"total_withdraw_requested", u64(v.TotalWithdrawRequested)},
		{"max_tokens", u64(v.MaxTokens)},
		{"management_fee", i64(v.ManagementFee)},
		{"init_ts", i64(v.InitTs)},
		{"net_deposits", i64(v.NetDeposits)},
		{"manager_net_deposits", i64(v.ManagerNetDeposits)},
		{"total_deposits", u64(v.TotalDeposits)},
		{"total_withdraws", u64(v.TotalWithdraws)},
		{"manager_total_deposits", u64(v.ManagerTotalDeposits)},
		{"manager_total_withdraws", u64(v.ManagerTotalWithdraws)},
		{"manager_total_fee", i64(v.ManagerTotalFee)},
		{"manager_total_profit_share", u64(v.ManagerTotalProfitShare)},
		{"min_deposit_amount", u64(v.MinDepositAmount)},
		{"shares_base", strconv.FormatUint(uint64(v.SharesBase), 10)},
		{"profit_share", strconv.FormatUint(uint64(v.ProfitShare), 10)},
		{"hurdle_rate", strconv.FormatUint(uint64(v.HurdleRate), 10)},
		{"spot_market_index", strconv.FormatUint(uint64(v.SpotMarketIndex), 10)},
		{"bump", strconv.FormatUint(uint64(v.Bump), 10)},
		{"permissioned", strconv.FormatBool(v.Permissioned)},
	}
}

// SelectFields keeps the requested fields in request order. Names that are
// not vault fields are returned as unknown. An empty request keeps all.
func SelectFields(fields []VaultField, requested []string) (selected []VaultField, unknown []string) {
	if len(requested) == 0 {
		return fields, nil
	}
	byName := make(map[string]VaultField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	for _, name := range requested {
		f, ok := byName[strings.TrimSpace(name)]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, f)
	}
	return selected, unknown
}
