package blockchain

import (
	"context"
)

// TokenSDK is the contract of the cryptographic token library. The payment
// engine drives it through this interface; tests substitute a stub.
type TokenSDK interface {
	// SubmitCommitment sends the transfer commitment to the aggregator
	// owning its request id.
	SubmitCommitment(ctx context.Context, c *TransferCommitment) (SubmitStatus, error)
	// WaitInclusionProof blocks until the commitment is included or the
	// context deadline passes.
	WaitInclusionProof(ctx context.Context, c *TransferCommitment) (*InclusionProof, error)
	// FinalizeTransaction resolves the received token for the predicate.
	FinalizeTransaction(ctx context.Context, source *Token, c *TransferCommitment, proof *InclusionProof, predicate *MaskedPredicate) (*Token, error)
	// Verify checks the received token against the trust base.
	Verify(ctx context.Context, token *Token, trustBase *TrustBase) error
}
