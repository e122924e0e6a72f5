package chain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"stealthdca/internal/config"
)

var (
	// ErrBlockhashExpired means the transaction can no longer land and may be
	// rebuilt against a fresh blockhash.
	ErrBlockhashExpired = errors.New("blockhash expired")
	ErrConfirmTimeout   = errors.New("confirmation timed out")
	ErrTransaction      = errors.New("transaction failed")
)

type Blockhash struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
}

// Client is the subset of the Solana JSON-RPC surface the wallet and pipeline use.
type Client interface {
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	// TokenBalance reads the owner's associated token account; a missing account is 0.
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (Blockhash, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error)
}

type RPC struct {
	client         *rpc.Client
	commitment     rpc.CommitmentType
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

func NewRPC(cfg config.RPCConfig, logger *zap.Logger) *RPC {
	if logger == nil {
		logger = zap.NewNop()
	}
	commitment := rpc.CommitmentConfirmed
	switch strings.ToLower(strings.TrimSpace(cfg.Commitment)) {
	case "finalized":
		commitment = rpc.CommitmentFinalized
	case "processed":
		commitment = rpc.CommitmentProcessed
	}
	timeout := cfg.ConfirmTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &RPC{
		client:         rpc.New(cfg.Endpoint),
		commitment:     commitment,
		confirmTimeout: timeout,
		pollInterval:   poll,
		logger:         logger,
	}
}

var _ Client = (*RPC)(nil)

func (c *RPC) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	res, err := c.client.GetBalance(ctx, owner, c.commitment)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance %s: %w", owner, err)
	}
	return res.Value, nil
}

func (c *RPC) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	res, err := c.client.GetTokenAccountBalance(ctx, ata, c.commitment)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance %s: %w", ata, err)
	}
	if res == nil || res.Value == nil {
		return 0, nil
	}
	v, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", res.Value.Amount, err)
	}
	return v, nil
}

func (c *RPC) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	res, err := c.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{Commitment: c.commitment})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return res != nil && res.Value != nil, nil
}

func (c *RPC) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	res, err := c.client.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return Blockhash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	if res == nil || res.Value == nil {
		return Blockhash{}, errors.New("get latest blockhash: empty response")
	}
	return Blockhash{Hash: res.Value.Blockhash, LastValidBlockHeight: res.Value.LastValidBlockHeight}, nil
}

// SendAndConfirm submits tx and polls until it reaches the configured commitment,
// fails on chain, or its blockhash passes lastValidBlockHeight.
func (c *RPC) SendAndConfirm(ctx context.Context, tx *solana.Transaction, lastValidBlockHeight uint64) (solana.Signature, error) {
	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		if isBlockhashNotFound(err) {
			return solana.Signature{}, fmt.Errorf("%w: %v", ErrBlockhashExpired, err)
		}
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	c.logger.Debug("transaction sent", zap.String("signature", sig.String()))

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		done, err := c.checkStatus(ctx, sig, lastValidBlockHeight)
		if done {
			return sig, err
		}
		if err != nil {
			c.logger.Debug("status poll failed", zap.String("signature", sig.String()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return sig, fmt.Errorf("%w: %s", ErrConfirmTimeout, sig)
			}
			return sig, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPC) checkStatus(ctx context.Context, sig solana.Signature, lastValid uint64) (bool, error) {
	res, err := c.client.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return false, err
	}
	if res != nil && len(res.Value) > 0 && res.Value[0] != nil {
		st := res.Value[0]
		if st.Err != nil {
			return true, fmt.Errorf("%w: %v", ErrTransaction, st.Err)
		}
		switch st.ConfirmationStatus {
		case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
			return true, nil
		}
		return false, nil
	}
	if lastValid == 0 {
		return false, nil
	}
	height, err := c.client.GetBlockHeight(ctx, c.commitment)
	if err != nil {
		return false, err
	}
	if height > lastValid {
		return true, fmt.Errorf("%w: block height %d passed %d", ErrBlockhashExpired, height, lastValid)
	}
	return false, nil
}

func isNotFound(err error) bool {
	if errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") || strings.Contains(msg, "account not found")
}

func isBlockhashNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "blockhash not found")
}
