package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"stealthdca/internal/config"
	"stealthdca/internal/tokens"
)

type PoolTransfer struct {
	Asset  tokens.Token
	Amount uint64
	// Owner is the depositor on Deposit and the recipient on Withdraw.
	Owner solana.PublicKey
	// Commitment identifies the deposit note being withdrawn.
	Commitment string
}

type PoolReceipt struct {
	Commitment string `json:"commitment,omitempty"`
	Signature  string `json:"signature,omitempty"`
	// Transaction, when set, is an unsigned base64 transaction the owner must sign and submit.
	Transaction string `json:"transaction,omitempty"`
	Simulated   bool   `json:"simulated"`
}

type Pool interface {
	Name() string
	Simulated() bool
	Deposit(ctx context.Context, req PoolTransfer) (*PoolReceipt, error)
	Withdraw(ctx context.Context, req PoolTransfer) (*PoolReceipt, error)
}

// RelayerPool is an anonymity pool reached through its relayer HTTP API.
type RelayerPool struct {
	rest *restClient
}

func NewRelayerPool(cfg config.ProviderConfig) *RelayerPool {
	return &RelayerPool{rest: newRestClient("pool", cfg.BaseURL, cfg.APIKey, "Authorization", cfg.Timeout)}
}

func (p *RelayerPool) Name() string    { return "relayer-pool" }
func (p *RelayerPool) Simulated() bool { return false }

func (p *RelayerPool) Probe(ctx context.Context) error {
	return p.rest.probe(ctx, "/health")
}

type poolRequest struct {
	Mint       string `json:"mint"`
	Amount     string `json:"amount"`
	Owner      string `json:"owner"`
	Commitment string `json:"commitment,omitempty"`
}

func (p *RelayerPool) Deposit(ctx context.Context, req PoolTransfer) (*PoolReceipt, error) {
	return p.call(ctx, "/deposit", req)
}

func (p *RelayerPool) Withdraw(ctx context.Context, req PoolTransfer) (*PoolReceipt, error) {
	return p.call(ctx, "/withdraw", req)
}

func (p *RelayerPool) call(ctx context.Context, path string, req PoolTransfer) (*PoolReceipt, error) {
	in := poolRequest{
		Mint:       req.Asset.Mint.String(),
		Amount:     strconv.FormatUint(req.Amount, 10),
		Owner:      req.Owner.String(),
		Commitment: req.Commitment,
	}
	var out PoolReceipt
	if err := p.rest.do(ctx, http.MethodPost, path, nil, in, &out); err != nil {
		return nil, err
	}
	out.Simulated = false
	return &out, nil
}

// SimulatedPool returns placeholder receipts and moves nothing.
type SimulatedPool struct{}

func (SimulatedPool) Name() string    { return "simulated-pool" }
func (SimulatedPool) Simulated() bool { return true }

func (SimulatedPool) Deposit(_ context.Context, req PoolTransfer) (*PoolReceipt, error) {
	return &PoolReceipt{Commitment: placeholder("commit", req.Owner.String(), req.Asset.Symbol, req.Amount), Simulated: true}, nil
}

func (SimulatedPool) Withdraw(_ context.Context, req PoolTransfer) (*PoolReceipt, error) {
	return &PoolReceipt{Commitment: req.Commitment, Simulated: true}, nil
}

func placeholder(kind, owner, asset string, amount uint64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", kind, owner, asset, amount)))
	return "sim_" + kind + "_" + hex.EncodeToString(sum[:8])
}
