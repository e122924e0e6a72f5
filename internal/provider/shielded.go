package provider

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"stealthdca/internal/config"
	"stealthdca/internal/tokens"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

type ShieldReceipt struct {
	Signature   string `json:"signature,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Simulated   bool   `json:"simulated"`
}

type ShieldTransfer struct {
	Signature    string `json:"signature,omitempty"`
	AmountHidden bool   `json:"amount_hidden"`
	Simulated    bool   `json:"simulated"`
}

// Shielded moves balances inside a pool whose transfer amounts are encrypted.
type Shielded interface {
	Name() string
	Simulated() bool
	Deposit(ctx context.Context, owner solana.PublicKey, amount uint64, asset tokens.Token) (*ShieldReceipt, error)
	Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, asset tokens.Token, visibility Visibility) (*ShieldTransfer, error)
}

type ShieldedPool struct {
	rest *restClient
}

func NewShieldedPool(cfg config.ProviderConfig) *ShieldedPool {
	return &ShieldedPool{rest: newRestClient("shielded", cfg.BaseURL, cfg.APIKey, "Authorization", cfg.Timeout)}
}

func (s *ShieldedPool) Name() string    { return "shielded-pool" }
func (s *ShieldedPool) Simulated() bool { return false }

func (s *ShieldedPool) Probe(ctx context.Context) error {
	return s.rest.probe(ctx, "/health")
}

func (s *ShieldedPool) Deposit(ctx context.Context, owner solana.PublicKey, amount uint64, asset tokens.Token) (*ShieldReceipt, error) {
	in := map[string]string{
		"owner":  owner.String(),
		"mint":   asset.Mint.String(),
		"amount": strconv.FormatUint(amount, 10),
	}
	var out ShieldReceipt
	if err := s.rest.do(ctx, http.MethodPost, "/deposit", nil, in, &out); err != nil {
		return nil, err
	}
	out.Simulated = false
	return &out, nil
}

func (s *ShieldedPool) Transfer(ctx context.Context, from, to solana.PublicKey, amount uint64, asset tokens.Token, visibility Visibility) (*ShieldTransfer, error) {
	in := map[string]string{
		"from":       from.String(),
		"to":         to.String(),
		"mint":       asset.Mint.String(),
		"amount":     strconv.FormatUint(amount, 10),
		"visibility": string(visibility),
	}
	var out ShieldTransfer
	if err := s.rest.do(ctx, http.MethodPost, "/transfer", nil, in, &out); err != nil {
		return nil, err
	}
	out.Simulated = false
	return &out, nil
}

type SimulatedShielded struct{}

func (SimulatedShielded) Name() string    { return "simulated-shielded" }
func (SimulatedShielded) Simulated() bool { return true }

func (SimulatedShielded) Deposit(context.Context, solana.PublicKey, uint64, tokens.Token) (*ShieldReceipt, error) {
	return &ShieldReceipt{Simulated: true}, nil
}

func (SimulatedShielded) Transfer(_ context.Context, _, _ solana.PublicKey, _ uint64, _ tokens.Token, visibility Visibility) (*ShieldTransfer, error) {
	return &ShieldTransfer{AmountHidden: visibility == VisibilityPrivate, Simulated: true}, nil
}
