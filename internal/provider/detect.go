package provider

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"stealthdca/internal/cache"
	"stealthdca/internal/config"
)

// Set is the provider selection made once at startup.
type Set struct {
	Quoter    Quoter
	Screener  Screener
	Pool      Pool
	Shielded  Shielded
	Encryptor Encryptor

	selections []Selection
}

type Selection struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Simulated bool   `json:"simulated"`
	Reason    string `json:"reason,omitempty"`
}

func (s Set) Describe() []Selection {
	out := make([]Selection, len(s.selections))
	copy(out, s.selections)
	return out
}

type prober interface {
	Probe(ctx context.Context) error
}

// Detect probes every enabled optional provider and falls back to its simulated
// counterpart when it is disabled, unconfigured or unreachable. The quote
// provider is always live.
func Detect(ctx context.Context, cfg config.ProvidersConfig, store cache.Store, logger *zap.Logger) Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	set := Set{Quoter: NewJupiter(cfg.Quote)}
	set.selections = append(set.selections, Selection{Kind: "quote", Name: set.Quoter.Name()})

	choose := func(kind string, pc config.ProviderConfig, live prober, name string) (bool, string) {
		if !pc.Enabled {
			return false, "disabled"
		}
		if strings.TrimSpace(pc.BaseURL) == "" {
			return false, "no base url"
		}
		pctx, cancel := context.WithTimeout(ctx, probeTimeout(pc.Timeout))
		defer cancel()
		if err := live.Probe(pctx); err != nil {
			logger.Warn("provider probe failed, using simulated", zap.String("kind", kind), zap.String("provider", name), zap.Error(err))
			return false, "probe failed: " + err.Error()
		}
		return true, ""
	}

	goplus := NewGoPlus(cfg.Screen, store)
	if ok, reason := choose("screen", cfg.Screen, goplus, goplus.Name()); ok {
		set.Screener = goplus
		set.selections = append(set.selections, Selection{Kind: "screen", Name: goplus.Name()})
	} else {
		set.Screener = SimulatedScreener{}
		set.selections = append(set.selections, Selection{Kind: "screen", Name: set.Screener.Name(), Simulated: true, Reason: reason})
	}

	pool := NewRelayerPool(cfg.Pool)
	if ok, reason := choose("pool", cfg.Pool, pool, pool.Name()); ok {
		set.Pool = pool
		set.selections = append(set.selections, Selection{Kind: "pool", Name: pool.Name()})
	} else {
		set.Pool = SimulatedPool{}
		set.selections = append(set.selections, Selection{Kind: "pool", Name: set.Pool.Name(), Simulated: true, Reason: reason})
	}

	shielded := NewShieldedPool(cfg.Shielded)
	if ok, reason := choose("shielded", cfg.Shielded, shielded, shielded.Name()); ok {
		set.Shielded = shielded
		set.selections = append(set.selections, Selection{Kind: "shielded", Name: shielded.Name()})
	} else {
		set.Shielded = SimulatedShielded{}
		set.selections = append(set.selections, Selection{Kind: "shielded", Name: set.Shielded.Name(), Simulated: true, Reason: reason})
	}

	conf := NewConfidentialService(cfg.Confidential)
	if ok, reason := choose("confidential", cfg.Confidential, conf, conf.Name()); ok {
		set.Encryptor = conf
		set.selections = append(set.selections, Selection{Kind: "confidential", Name: conf.Name()})
	} else {
		set.Encryptor = SimulatedEncryptor{}
		set.selections = append(set.selections, Selection{Kind: "confidential", Name: set.Encryptor.Name(), Simulated: true, Reason: reason})
	}

	for _, sel := range set.selections {
		logger.Info("provider selected",
			zap.String("kind", sel.Kind),
			zap.String("provider", sel.Name),
			zap.Bool("simulated", sel.Simulated),
			zap.String("reason", sel.Reason),
		)
	}
	return set
}

func probeTimeout(d time.Duration) time.Duration {
	if d <= 0 || d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}
