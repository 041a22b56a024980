package blockchain

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// CoinID identifies one on-chain asset inside a token's coin data.
type CoinID string

// SubmitStatus is the aggregator's verdict on a submitted commitment.
type SubmitStatus string

const (
	SubmitSuccess SubmitStatus = "SUCCESS"
)

// CoinBalance is one (coin id, value) entry of a token's coin data.
type CoinBalance struct {
	CoinID CoinID       `json:"coinId"`
	Value  *hexutil.Big `json:"value"`
}

// Token is the received-token outcome of a finalized transfer. Raw preserves
// the SDK's serialized form for storage.
type Token struct {
	ID    string          `json:"id"`
	Type  string          `json:"type"`
	Coins []CoinBalance   `json:"coins"`
	Proof json.RawMessage `json:"proof,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

// ParseToken decodes a serialized token.
func ParseToken(raw []byte) (*Token, error) {
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("invalid token json: %w", err)
	}
	t.Raw = append(json.RawMessage(nil), raw...)
	return &t, nil
}

// SumCoins adds up the token's values for one coin id.
func (t *Token) SumCoins(id CoinID) *big.Int {
	sum := new(big.Int)
	for _, c := range t.Coins {
		if c.CoinID == id && c.Value != nil {
			sum.Add(sum, c.Value.ToInt())
		}
	}
	return sum
}

// OnlyCoin reports whether every coin entry carries the given coin id.
func (t *Token) OnlyCoin(id CoinID) bool {
	if len(t.Coins) == 0 {
		return false
	}
	for _, c := range t.Coins {
		if c.CoinID != id {
			return false
		}
	}
	return true
}

// TransferCommitment is the opaque client-built transfer; the proxy only
// reads its blockchain request id.
type TransferCommitment struct {
	RequestID string          `json:"requestId"`
	Raw       json.RawMessage `json:"-"`
}

// ParseTransferCommitment decodes a commitment and requires its request id.
func ParseTransferCommitment(raw []byte) (*TransferCommitment, error) {
	var c TransferCommitment
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("invalid transfer commitment json: %w", err)
	}
	if c.RequestID == "" {
		return nil, fmt.Errorf("transfer commitment carries no requestId")
	}
	c.Raw = append(json.RawMessage(nil), raw...)
	return &c, nil
}

// InclusionProof is the aggregator's proof that a commitment was included.
type InclusionProof struct {
	Raw json.RawMessage
}

// TrustBase identifies the chain's root validators; loaded once at startup.
type TrustBase struct {
	Raw json.RawMessage
}

// ParseTrustBase validates that the document is JSON.
func ParseTrustBase(raw []byte) (*TrustBase, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("trust base is not valid json")
	}
	return &TrustBase{Raw: append(json.RawMessage(nil), raw...)}, nil
}
