package blockchain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// MaskedPredicate is the receiver-side unlock condition for a payment
// address. The signer key is reconstructible from (serverSecret, nonce), so
// only the nonce needs to be persisted with the session.
type MaskedPredicate struct {
	signer    []byte
	tokenType string
}

// DeriveMaskedPredicate derives the predicate for one payment session.
// Deterministic: the same secret, nonce and token type always yield the same
// signer and address.
func DeriveMaskedPredicate(serverSecret, receiverNonce []byte, tokenType string) *MaskedPredicate {
	mac := hmac.New(sha256.New, serverSecret)
	mac.Write(receiverNonce)
	return &MaskedPredicate{
		signer:    mac.Sum(nil),
		tokenType: tokenType,
	}
}

// Address returns the payment address clients transfer tokens to.
func (p *MaskedPredicate) Address() string {
	h := sha3.New256()
	h.Write(p.signer)
	h.Write([]byte(p.tokenType))
	return "DIRECT://" + hex.EncodeToString(h.Sum(nil))
}

// Signer exposes the derived signing key for finalization.
func (p *MaskedPredicate) Signer() []byte {
	out := make([]byte, len(p.signer))
	copy(out, p.signer)
	return out
}
