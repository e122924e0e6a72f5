package chain

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	results    []error
	sends      int
	blockhashs int
}

func (f *fakeClient) NativeBalance(context.Context, solana.PublicKey) (uint64, error) { return 0, nil }
func (f *fakeClient) TokenBalance(context.Context, solana.PublicKey, solana.PublicKey) (uint64, error) {
	return 0, nil
}
func (f *fakeClient) AccountExists(context.Context, solana.PublicKey) (bool, error) { return false, nil }

func (f *fakeClient) LatestBlockhash(context.Context) (Blockhash, error) {
	f.blockhashs++
	var h solana.Hash
	h[0] = byte(f.blockhashs)
	return Blockhash{Hash: h, LastValidBlockHeight: 100}, nil
}

func (f *fakeClient) SendAndConfirm(_ context.Context, tx *solana.Transaction, _ uint64) (solana.Signature, error) {
	err := f.results[f.sends]
	f.sends++
	if err != nil {
		return solana.Signature{}, err
	}
	return tx.Signatures[0], nil
}

type keySigner struct{ key solana.PrivateKey }

func (k keySigner) PublicKey() solana.PublicKey { return k.key.PublicKey() }
func (k keySigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(k.key.PublicKey()) {
			return &k.key
		}
		return nil
	})
	return err
}

func transferBuilder(t *testing.T, signer keySigner, seen *[]solana.Hash) BuildFunc {
	t.Helper()
	return func(bh solana.Hash) (*solana.Transaction, error) {
		*seen = append(*seen, bh)
		tx, err := solana.NewTransaction([]solana.Instruction{
			system.NewTransferInstruction(1, signer.PublicKey(), solana.SystemProgramID).Build(),
		}, bh, solana.TransactionPayer(signer.PublicKey()))
		if err != nil {
			return nil, err
		}
		return tx, signer.Sign(tx)
	}
}

func TestSubmitRetriesExpiredWithFreshBlockhash(t *testing.T) {
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	c := &fakeClient{results: []error{ErrBlockhashExpired, ErrBlockhashExpired, nil}}
	var seen []solana.Hash

	sig, err := Submit(context.Background(), c, RetryPolicy{MaxAttempts: 3}, transferBuilder(t, keySigner{key}, &seen))
	require.NoError(t, err)
	assert.False(t, sig.IsZero())
	assert.Equal(t, 3, c.sends)
	require.Len(t, seen, 3)
	assert.NotEqual(t, seen[0], seen[1])
	assert.NotEqual(t, seen[1], seen[2])
}

func TestSubmitStopsAfterMaxAttempts(t *testing.T) {
	key, _ := solana.NewRandomPrivateKey()
	c := &fakeClient{results: []error{ErrBlockhashExpired, ErrBlockhashExpired, ErrBlockhashExpired, nil}}
	var seen []solana.Hash

	_, err := Submit(context.Background(), c, RetryPolicy{MaxAttempts: 3}, transferBuilder(t, keySigner{key}, &seen))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlockhashExpired))
	assert.Equal(t, 3, c.sends)
}

func TestSubmitDoesNotRetryOtherErrors(t *testing.T) {
	key, _ := solana.NewRandomPrivateKey()
	rejected := errors.New("insufficient funds for rent")
	c := &fakeClient{results: []error{rejected, nil}}
	var seen []solana.Hash

	_, err := Submit(context.Background(), c, RetryPolicy{MaxAttempts: 3}, transferBuilder(t, keySigner{key}, &seen))
	require.Error(t, err)
	assert.True(t, errors.Is(err, rejected))
	assert.Equal(t, 1, c.sends)
}

func TestSignProviderTransactionReplacesBlockhash(t *testing.T) {
	key, _ := solana.NewRandomPrivateKey()
	signer := keySigner{key}
	var old solana.Hash
	old[0] = 9
	tx, err := solana.NewTransaction([]solana.Instruction{
		system.NewTransferInstruction(5, signer.PublicKey(), solana.SystemProgramID).Build(),
	}, old, solana.TransactionPayer(signer.PublicKey()))
	require.NoError(t, err)
	require.NoError(t, signer.Sign(tx))
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)

	var fresh solana.Hash
	fresh[0] = 7
	signed, err := SignProviderTransaction(base64.StdEncoding.EncodeToString(raw), fresh, signer)
	require.NoError(t, err)
	assert.Equal(t, fresh, signed.Message.RecentBlockhash)
	require.Len(t, signed.Signatures, 1)
	assert.NotEqual(t, tx.Signatures[0], signed.Signatures[0])
	require.NoError(t, signed.VerifySignatures())

	_, err = SignProviderTransaction("%%%", fresh, signer)
	assert.Error(t, err)
}
