package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"stealthdca/internal/cache"
	"stealthdca/internal/config"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
	RiskSevere RiskLevel = "severe"
)

type Verdict struct {
	Address      string    `json:"address"`
	RiskLevel    RiskLevel `json:"risk_level"`
	IsSanctioned bool      `json:"is_sanctioned"`
	Flags        []string  `json:"flags,omitempty"`
	Simulated    bool      `json:"simulated"`
}

// Rejected reports whether the pipeline must stop for this verdict.
func (v Verdict) Rejected() bool {
	return v.IsSanctioned || v.RiskLevel == RiskSevere
}

type Screener interface {
	Name() string
	Simulated() bool
	// Screen checks address. credential is the caller's API key for the screening service.
	Screen(ctx context.Context, address, credential string) (*Verdict, error)
}

// GoPlus address flags by tier. Any severe flag rejects the address like a sanction does.
var (
	severeRiskFlags = []string{
		"stealing_attack", "cybercrime", "money_laundering",
		"financial_crime", "darkweb_transactions", "blackmail_activities",
	}
	highRiskFlags = []string{
		"phishing_activities", "mixer", "blacklist_doubt",
	}
	mediumRiskFlags = []string{
		"honeypot_related_address", "fake_kyc",
		"malicious_mining_activities", "number_of_malicious_contracts_created",
	}
)

// GoPlus screens addresses through the GoPlus address_security API.
type GoPlus struct {
	rest  *restClient
	cache cache.Store
	ttl   time.Duration
}

func NewGoPlus(cfg config.ProviderConfig, store cache.Store) *GoPlus {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	base := cfg.BaseURL
	if strings.TrimSpace(base) == "" {
		base = "https://api.gopluslabs.io"
	}
	return &GoPlus{
		rest:  newRestClient("goplus", base, "", "", cfg.Timeout),
		cache: store,
		ttl:   ttl,
	}
}

func (g *GoPlus) Name() string    { return "goplus" }
func (g *GoPlus) Simulated() bool { return false }

func (g *GoPlus) Probe(ctx context.Context) error {
	q := url.Values{}
	q.Set("name", "address_security")
	return g.rest.do(ctx, http.MethodGet, "/api/v1/supported_chains", q, nil, nil)
}

type goplusResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Result  map[string]any `json:"result"`
}

func (g *GoPlus) Screen(ctx context.Context, address, credential string) (*Verdict, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("address required")
	}
	key := cache.Key("screen", g.Name(), address)
	if g.cache != nil {
		if b, found, err := g.cache.Get(ctx, key); err == nil && found {
			var v Verdict
			if json.Unmarshal(b, &v) == nil {
				return &v, nil
			}
		}
	}

	q := url.Values{}
	q.Set("chain_id", "solana")
	if c := strings.TrimSpace(credential); c != "" {
		q.Set("api_key", c)
	}
	var raw json.RawMessage
	if err := g.rest.do(ctx, http.MethodGet, "/api/v1/address_security/"+url.PathEscape(address), q, nil, &raw); err != nil {
		return nil, err
	}
	var resp goplusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode goplus response: %w", err)
	}
	if resp.Code != 1 {
		return nil, &APIError{Provider: g.Name(), Status: http.StatusOK, Body: strings.TrimSpace(string(raw))}
	}

	v := classify(address, resp.Result)
	if g.cache != nil {
		if b, err := json.Marshal(v); err == nil {
			_ = g.cache.Set(ctx, key, b, g.ttl)
		}
	}
	return &v, nil
}

func classify(address string, result map[string]any) Verdict {
	v := Verdict{Address: address, RiskLevel: RiskLow}
	hit := func(name string) bool {
		raw, ok := result[name]
		if !ok || raw == nil {
			return false
		}
		val := strings.TrimSpace(fmt.Sprint(raw))
		return val != "" && val != "0"
	}
	tiers := []struct {
		flags []string
		level RiskLevel
	}{
		{mediumRiskFlags, RiskMedium},
		{highRiskFlags, RiskHigh},
		{severeRiskFlags, RiskSevere},
	}
	for _, tier := range tiers {
		for _, name := range tier.flags {
			if hit(name) {
				v.Flags = append(v.Flags, name)
				v.RiskLevel = tier.level
			}
		}
	}
	if hit("sanctioned") {
		v.Flags = append(v.Flags, "sanctioned")
		v.IsSanctioned = true
		v.RiskLevel = RiskSevere
	}
	sort.Strings(v.Flags)
	return v
}

// SimulatedScreener passes every address.
type SimulatedScreener struct{}

func (SimulatedScreener) Name() string    { return "simulated-screen" }
func (SimulatedScreener) Simulated() bool { return true }

func (SimulatedScreener) Screen(_ context.Context, address, _ string) (*Verdict, error) {
	return &Verdict{Address: address, RiskLevel: RiskLow, Simulated: true}, nil
}
