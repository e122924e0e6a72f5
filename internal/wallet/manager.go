package wallet

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"stealthdca/internal/chain"
	"stealthdca/internal/config"
	"stealthdca/internal/tokens"
)

const (
	ATARentLamports         uint64 = 2_039_280
	SwapFeeHeadroomLamports uint64 = 5_000_000
	SafetyBufferLamports    uint64 = 921_440
	// RecoveryReserveLamports stays behind to pay the recovery transfer fee.
	RecoveryReserveLamports uint64 = 5_000
	BaseFeeLamports         uint64 = 5_000
)

var (
	ErrFundingFailed       = errors.New("funding failed")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// RecommendedFunding is the native budget a disposable identity needs on top
// of the swap input: rent for two token accounts plus fee headroom. 0.01 SOL.
func RecommendedFunding() uint64 {
	return 2*ATARentLamports + SwapFeeHeadroomLamports + SafetyBufferLamports
}

type Manager struct {
	Chain       chain.Client
	Logger      *zap.Logger
	Retry       chain.RetryPolicy
	RecoveryDir string
}

// FundRequest moves Lamports of native balance and, when Token is set, TokenAmount
// base units of that token from the funder to the identity in one transaction.
type FundRequest struct {
	Lamports    uint64
	Token       *tokens.Token
	TokenAmount uint64
}

type Recovery struct {
	Recovered bool
	Lamports  uint64
	Balance   uint64
	Signature string
}

func (m *Manager) log() *zap.Logger {
	if m == nil || m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *Manager) Generate() (*Identity, error) {
	pk, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, err
	}
	id, err := NewIdentity(pk, true)
	if err != nil {
		return nil, err
	}
	m.log().Debug("disposable identity generated", zap.String("address", id.Address()))
	return id, nil
}

func (m *Manager) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return m.Chain.NativeBalance(ctx, owner)
}

func (m *Manager) AssetBalance(ctx context.Context, owner solana.PublicKey, t tokens.Token) (uint64, error) {
	return m.Chain.TokenBalance(ctx, owner, t.Mint)
}

// Fund checks the funder's balances first and submits nothing when they fall short.
func (m *Manager) Fund(ctx context.Context, funder, id *Identity, req FundRequest) (string, error) {
	spl := req.Token != nil && !req.Token.IsNative() && req.TokenAmount > 0
	var (
		srcATA, dstATA solana.PublicKey
		createATA      bool
		err            error
	)
	need := req.Lamports + BaseFeeLamports
	if spl {
		if srcATA, _, err = solana.FindAssociatedTokenAddress(funder.PublicKey(), req.Token.Mint); err != nil {
			return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
		}
		if dstATA, _, err = solana.FindAssociatedTokenAddress(id.PublicKey(), req.Token.Mint); err != nil {
			return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
		}
		exists, err := m.Chain.AccountExists(ctx, dstATA)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
		}
		if !exists {
			createATA = true
			need += ATARentLamports
		}
	}

	have, err := m.Chain.NativeBalance(ctx, funder.PublicKey())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
	}
	if have < need {
		return "", fmt.Errorf("%w: %w: funder holds %d lamports, needs %d", ErrFundingFailed, ErrInsufficientBalance, have, need)
	}
	if spl {
		haveTok, err := m.Chain.TokenBalance(ctx, funder.PublicKey(), req.Token.Mint)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
		}
		if haveTok < req.TokenAmount {
			return "", fmt.Errorf("%w: %w: funder holds %s %s, needs %s", ErrFundingFailed, ErrInsufficientBalance,
				req.Token.FromRaw(haveTok), req.Token.Symbol, req.Token.FromRaw(req.TokenAmount))
		}
	}

	var ixs []solana.Instruction
	if req.Lamports > 0 {
		ixs = append(ixs, system.NewTransferInstruction(req.Lamports, funder.PublicKey(), id.PublicKey()).Build())
	}
	if spl {
		if createATA {
			ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(funder.PublicKey(), id.PublicKey(), req.Token.Mint).Build())
		}
		ixs = append(ixs, token.NewTransferCheckedInstruction(
			req.TokenAmount, uint8(req.Token.Decimals), srcATA, req.Token.Mint, dstATA, funder.PublicKey(), []solana.PublicKey{},
		).Build())
	}
	if len(ixs) == 0 {
		return "", nil
	}

	sig, err := chain.Submit(ctx, m.Chain, m.Retry, buildSigned(ixs, funder))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFundingFailed, err)
	}
	m.log().Info("identity funded",
		zap.String("identity", id.Address()),
		zap.Uint64("lamports", req.Lamports),
		zap.Uint64("token_amount", req.TokenAmount),
		zap.String("signature", sig.String()),
	)
	return sig.String(), nil
}

// SendToDestination moves raw units of t from the identity to dest, creating
// dest's token account with the identity as payer when it is missing.
func (m *Manager) SendToDestination(ctx context.Context, id *Identity, dest solana.PublicKey, t tokens.Token, raw uint64) (string, error) {
	srcATA, _, err := solana.FindAssociatedTokenAddress(id.PublicKey(), t.Mint)
	if err != nil {
		return "", err
	}
	dstATA, _, err := solana.FindAssociatedTokenAddress(dest, t.Mint)
	if err != nil {
		return "", err
	}
	exists, err := m.Chain.AccountExists(ctx, dstATA)
	if err != nil {
		return "", err
	}
	var ixs []solana.Instruction
	if !exists {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(id.PublicKey(), dest, t.Mint).Build())
	}
	ixs = append(ixs, token.NewTransferCheckedInstruction(
		raw, uint8(t.Decimals), srcATA, t.Mint, dstATA, id.PublicKey(), []solana.PublicKey{},
	).Build())

	sig, err := chain.Submit(ctx, m.Chain, m.Retry, buildSigned(ixs, id))
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}

// RecoverNative sweeps the identity's native balance minus the fee reserve to dest.
func (m *Manager) RecoverNative(ctx context.Context, id *Identity, dest solana.PublicKey) (Recovery, error) {
	balance, err := m.Chain.NativeBalance(ctx, id.PublicKey())
	if err != nil {
		return Recovery{}, err
	}
	if balance <= RecoveryReserveLamports {
		return Recovery{Recovered: false, Balance: balance}, nil
	}
	amount := balance - RecoveryReserveLamports
	ixs := []solana.Instruction{system.NewTransferInstruction(amount, id.PublicKey(), dest).Build()}
	sig, err := chain.Submit(ctx, m.Chain, m.Retry, buildSigned(ixs, id))
	if err != nil {
		return Recovery{Balance: balance}, err
	}
	m.log().Info("native balance recovered",
		zap.String("identity", id.Address()),
		zap.String("destination", dest.String()),
		zap.Uint64("lamports", amount),
	)
	return Recovery{Recovered: true, Lamports: amount, Balance: balance, Signature: sig.String()}, nil
}

// Preserve writes the identity's key as a keygen file under RecoveryDir.
// It returns "" when no recovery dir is configured.
func (m *Manager) Preserve(id *Identity) (string, error) {
	if m == nil || m.RecoveryDir == "" || id == nil {
		return "", nil
	}
	path := filepath.Join(config.ExpandHome(m.RecoveryDir), id.Address()+".json")
	if err := id.writeKeygenFile(path); err != nil {
		return "", err
	}
	m.log().Warn("disposable key preserved", zap.String("identity", id.Address()), zap.String("path", path))
	return path, nil
}

func buildSigned(ixs []solana.Instruction, payer *Identity) chain.BuildFunc {
	return func(bh solana.Hash) (*solana.Transaction, error) {
		tx, err := solana.NewTransaction(ixs, bh, solana.TransactionPayer(payer.PublicKey()))
		if err != nil {
			return nil, err
		}
		if err := payer.Sign(tx); err != nil {
			return nil, err
		}
		return tx, nil
	}
}
