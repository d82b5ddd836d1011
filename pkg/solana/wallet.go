package solana

import (
	"fmt"
	"strconv"
)

// Wallet signs on behalf of an authority. A delegated wallet signs with a
// delegate keypair while trading the vault authority's sub-accounts.
type Wallet struct {
	signer    *Keypair
	authority PublicKey
	delegated bool
}

// NewWallet creates a wallet whose signer is also the authority.
func NewWallet(signer *Keypair) *Wallet {
	return &Wallet{
		signer:    signer,
		authority: signer.PublicKey(),
	}
}

// NewDelegatedWallet creates a wallet that signs with signer for authority.
func NewDelegatedWallet(signer *Keypair, authority PublicKey) *Wallet {
	w := NewWallet(signer)
	w.ToDelegated(authority)
	return w
}

// ToDelegated switches the wallet to act for authority.
func (w *Wallet) ToDelegated(authority PublicKey) {
	w.authority = authority
	w.delegated = true
}

// Signer returns the signing address.
func (w *Wallet) Signer() PublicKey {
	return w.signer.PublicKey()
}

// Authority returns the account authority the wallet trades for.
func (w *Wallet) Authority() PublicKey {
	return w.authority
}

// IsDelegated reports whether the signer differs from the authority.
func (w *Wallet) IsDelegated() bool {
	return w.delegated
}

// SubAccount identifies a Drift user sub-account.
type SubAccount struct {
	Authority PublicKey `json:"authority"`
	ID        uint16    `json:"sub_account_id"`
}

func (s SubAccount) String() string {
	return s.Authority.String() + "/" + strconv.Itoa(int(s.ID))
}

// DefaultSubAccount returns sub-account 0 of the authority.
func (w *Wallet) DefaultSubAccount() SubAccount {
	return SubAccount{Authority: w.authority}
}

// SignRequest signs an HTTP request for the gateway and returns the headers
// to attach. The signed message is timestamp + method + path + body.
func (w *Wallet) SignRequest(timestamp, method, path string, body []byte) map[string]string {
	message := timestamp + method + path
	if len(body) > 0 {
		message += string(body)
	}

	headers := map[string]string{
		HeaderSigner:    w.Signer().String(),
		HeaderSignature: w.signer.SignBase58([]byte(message)),
		HeaderTimestamp: timestamp,
	}
	if w.delegated {
		headers[HeaderAuthority] = w.authority.String()
	}
	return headers
}

// Request authentication headers.
const (
	HeaderSigner    = "X-Drift-Signer"
	HeaderSignature = "X-Drift-Signature"
	HeaderTimestamp = "X-Drift-Timestamp"
	HeaderAuthority = "X-Drift-Authority"
)

// VerifyRequest checks headers produced by SignRequest.
func VerifyRequest(headers map[string]string, method, path string, body []byte) error {
	signer, err := ParsePublicKey(headers[HeaderSigner])
	if err != nil {
		return fmt.Errorf("signer: %w", err)
	}
	sig, err := decodeSignature(headers[HeaderSignature])
	if err != nil {
		return err
	}

	message := headers[HeaderTimestamp] + method + path + string(body)
	if !Verify(signer, []byte(message), sig) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
