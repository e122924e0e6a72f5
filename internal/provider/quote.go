package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/time/rate"

	"stealthdca/internal/config"
)

type QuoteRequest struct {
	InputMint   solana.PublicKey
	OutputMint  solana.PublicKey
	Amount      uint64
	SlippageBps int
}

type Quote struct {
	InputMint      string
	OutputMint     string
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct string
	// Raw is the provider's quote document, echoed back when requesting the swap.
	Raw json.RawMessage
}

type SwapTransaction struct {
	// Transaction is base64 and still has to be signed by the swapper.
	Transaction          string
	LastValidBlockHeight uint64
}

type Quoter interface {
	Name() string
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	SwapTransaction(ctx context.Context, q *Quote, user solana.PublicKey) (*SwapTransaction, error)
}

// Jupiter talks to a Jupiter-compatible swap aggregator.
type Jupiter struct {
	rest *restClient
}

func NewJupiter(cfg config.QuoteProviderConfig) *Jupiter {
	rest := newRestClient("jupiter", cfg.BaseURL, cfg.APIKey, "x-api-key", cfg.Timeout)
	if cfg.RatePerSecond > 0 {
		rest.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return &Jupiter{rest: rest}
}

func (j *Jupiter) Name() string { return "jupiter" }

type jupiterQuote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	Error          string `json:"error"`
}

func (j *Jupiter) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Amount == 0 {
		return nil, errors.New("quote amount must be positive")
	}
	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	var raw json.RawMessage
	if err := j.rest.do(ctx, http.MethodGet, "/quote", q, nil, &raw); err != nil {
		return nil, err
	}
	var parsed jupiterQuote
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode jupiter quote: %w", err)
	}
	if parsed.Error != "" || parsed.OutAmount == "" {
		return nil, &APIError{Provider: j.Name(), Status: http.StatusOK, Body: strings.TrimSpace(string(raw))}
	}
	in, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount %q: %w", parsed.InAmount, err)
	}
	out, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", parsed.OutAmount, err)
	}
	return &Quote{
		InputMint:      parsed.InputMint,
		OutputMint:     parsed.OutputMint,
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: parsed.PriceImpactPct,
		Raw:            raw,
	}, nil
}

func (j *Jupiter) SwapTransaction(ctx context.Context, q *Quote, user solana.PublicKey) (*SwapTransaction, error) {
	if q == nil || len(q.Raw) == 0 {
		return nil, errors.New("swap requires a quote")
	}
	in := map[string]any{
		"quoteResponse":           q.Raw,
		"userPublicKey":           user.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
	}
	var out struct {
		SwapTransaction      string `json:"swapTransaction"`
		LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		Error                string `json:"error"`
	}
	if err := j.rest.do(ctx, http.MethodPost, "/swap", nil, in, &out); err != nil {
		return nil, err
	}
	if out.SwapTransaction == "" {
		msg := out.Error
		if msg == "" {
			msg = "empty swapTransaction"
		}
		return nil, &APIError{Provider: j.Name(), Status: http.StatusOK, Body: msg}
	}
	return &SwapTransaction{Transaction: out.SwapTransaction, LastValidBlockHeight: out.LastValidBlockHeight}, nil
}
