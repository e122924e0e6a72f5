package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Interval: 500 * time.Millisecond}
}

// BuildFunc returns a signed transaction for the given blockhash.
type BuildFunc func(blockhash solana.Hash) (*solana.Transaction, error)

// Submit sends a transaction built by build, rebuilding it on a fresh blockhash
// whenever the previous attempt expired. Any other failure is returned as is.
func Submit(ctx context.Context, c Client, p RetryPolicy, build BuildFunc) (solana.Signature, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	op := func() (solana.Signature, error) {
		bh, err := c.LatestBlockhash(ctx)
		if err != nil {
			return solana.Signature{}, backoff.Permanent(err)
		}
		tx, err := build(bh.Hash)
		if err != nil {
			return solana.Signature{}, backoff.Permanent(fmt.Errorf("build transaction: %w", err))
		}
		sig, err := c.SendAndConfirm(ctx, tx, bh.LastValidBlockHeight)
		if err != nil {
			if errors.Is(err, ErrBlockhashExpired) {
				return sig, err
			}
			return sig, backoff.Permanent(err)
		}
		return sig, nil
	}
	return backoff.Retry(ctx, op,
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Interval)),
	)
}

// Signer owns a key that can sign transactions naming it as a signer.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// SignProviderTransaction decodes a base64 transaction built by an external
// provider, points it at blockhash and signs it with signer.
func SignProviderTransaction(raw string, blockhash solana.Hash, signer Signer) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	tx.Message.RecentBlockhash = blockhash
	tx.Signatures = nil
	if err := signer.Sign(tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}
