package tokens

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"stealthdca/internal/config"
)

// NativeMint is the wrapped SOL mint. Swaps touching SOL settle in native lamports.
var NativeMint = solana.SolMint

var ErrUnknownToken = errors.New("unknown token")

type Token struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals int32
}

func (t Token) IsNative() bool {
	return t.Mint.Equals(NativeMint)
}

// ToRaw converts a human amount to base units, truncating extra precision.
func (t Token) ToRaw(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	raw := amount.Shift(t.Decimals).Truncate(0)
	if !raw.IsPositive() && amount.IsPositive() {
		return 0, fmt.Errorf("amount %s below the smallest unit of %s", amount, t.Symbol)
	}
	if raw.BigInt().BitLen() > 64 {
		return 0, fmt.Errorf("amount %s overflows", amount)
	}
	return raw.BigInt().Uint64(), nil
}

func (t Token) FromRaw(raw uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -t.Decimals)
}

type Registry struct {
	bySymbol map[string]Token
}

var builtin = []struct {
	symbol   string
	mint     string
	decimals int32
}{
	{"SOL", "So11111111111111111111111111111111111111112", 9},
	{"USDC", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", 6},
	{"USDT", "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB", 6},
	{"BONK", "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263", 5},
	{"JUP", "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN", 6},
}

// NewRegistry returns the built-in tokens extended (or overridden) by extra.
func NewRegistry(extra []config.TokenConfig) (*Registry, error) {
	r := &Registry{bySymbol: map[string]Token{}}
	for _, b := range builtin {
		r.bySymbol[b.symbol] = Token{Symbol: b.symbol, Mint: solana.MustPublicKeyFromBase58(b.mint), Decimals: b.decimals}
	}
	r.bySymbol["WSOL"] = r.bySymbol["SOL"]
	for _, item := range extra {
		sym := strings.ToUpper(strings.TrimSpace(item.Symbol))
		if sym == "" {
			return nil, errors.New("token symbol required")
		}
		mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(item.Mint))
		if err != nil {
			return nil, fmt.Errorf("token %s: invalid mint: %w", sym, err)
		}
		if item.Decimals < 0 || item.Decimals > 18 {
			return nil, fmt.Errorf("token %s: decimals out of range", sym)
		}
		r.bySymbol[sym] = Token{Symbol: sym, Mint: mint, Decimals: int32(item.Decimals)}
	}
	return r, nil
}

func (r *Registry) Lookup(symbol string) (Token, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	t, ok := r.bySymbol[sym]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", ErrUnknownToken, symbol)
	}
	return t, nil
}

func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for _, b := range builtin {
		out = append(out, b.symbol)
	}
	for sym := range r.bySymbol {
		if sym == "WSOL" || isBuiltin(sym) {
			continue
		}
		out = append(out, sym)
	}
	return out
}

func isBuiltin(sym string) bool {
	for _, b := range builtin {
		if b.symbol == sym {
			return true
		}
	}
	return false
}
