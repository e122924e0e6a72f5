package wallet

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stealthdca/internal/chain"
	"stealthdca/internal/tokens"
)

type fakeChain struct {
	native   map[solana.PublicKey]uint64
	token    map[solana.PublicKey]uint64
	accounts map[solana.PublicKey]bool
	sent     []*solana.Transaction
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		native:   map[solana.PublicKey]uint64{},
		token:    map[solana.PublicKey]uint64{},
		accounts: map[solana.PublicKey]bool{},
	}
}

func (f *fakeChain) NativeBalance(_ context.Context, owner solana.PublicKey) (uint64, error) {
	return f.native[owner], nil
}

func (f *fakeChain) TokenBalance(_ context.Context, owner, _ solana.PublicKey) (uint64, error) {
	return f.token[owner], nil
}

func (f *fakeChain) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	return f.accounts[account], nil
}

func (f *fakeChain) LatestBlockhash(context.Context) (chain.Blockhash, error) {
	return chain.Blockhash{LastValidBlockHeight: 10}, nil
}

func (f *fakeChain) SendAndConfirm(_ context.Context, tx *solana.Transaction, _ uint64) (solana.Signature, error) {
	f.sent = append(f.sent, tx)
	return tx.Signatures[0], nil
}

func newFunder(t *testing.T) *Identity {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	id, err := NewIdentity(pk, false)
	require.NoError(t, err)
	return id
}

func TestRecommendedFunding(t *testing.T) {
	if got := RecommendedFunding(); got != 10_000_000 {
		t.Fatalf("expected 10000000 lamports, got %d", got)
	}
}

func TestFundFailsWithoutSubmittingWhenFunderShort(t *testing.T) {
	fc := newFakeChain()
	m := &Manager{Chain: fc}
	funder := newFunder(t)
	fc.native[funder.PublicKey()] = 5_000_000 // 0.005 SOL

	id, err := m.Generate()
	require.NoError(t, err)
	defer id.Discard()

	_, err = m.Fund(context.Background(), funder, id, FundRequest{Lamports: 100_000_000 + RecommendedFunding()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFundingFailed))
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Empty(t, fc.sent)

	bal, err := m.NativeBalance(context.Background(), id.PublicKey())
	require.NoError(t, err)
	assert.Zero(t, bal)
}

func TestFundChecksTokenBalance(t *testing.T) {
	fc := newFakeChain()
	m := &Manager{Chain: fc}
	reg, _ := tokens.NewRegistry(nil)
	usdc, _ := reg.Lookup("USDC")
	funder := newFunder(t)
	fc.native[funder.PublicKey()] = 1_000_000_000
	fc.token[funder.PublicKey()] = 1_000_000

	id, _ := m.Generate()
	defer id.Discard()

	_, err := m.Fund(context.Background(), funder, id, FundRequest{Lamports: RecommendedFunding(), Token: &usdc, TokenAmount: 2_000_000})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Empty(t, fc.sent)

	sig, err := m.Fund(context.Background(), funder, id, FundRequest{Lamports: RecommendedFunding(), Token: &usdc, TokenAmount: 1_000_000})
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	require.Len(t, fc.sent, 1)
	// transfer + create ATA + transferChecked
	assert.Len(t, fc.sent[0].Message.Instructions, 3)
	assert.True(t, fc.sent[0].Message.AccountKeys[0].Equals(funder.PublicKey()))
}

func TestRecoverNativeKeepsReserve(t *testing.T) {
	fc := newFakeChain()
	m := &Manager{Chain: fc}
	id, _ := m.Generate()
	defer id.Discard()
	dest := newFunder(t)

	fc.native[id.PublicKey()] = RecoveryReserveLamports
	rec, err := m.RecoverNative(context.Background(), id, dest.PublicKey())
	require.NoError(t, err)
	assert.False(t, rec.Recovered)
	assert.Empty(t, fc.sent)

	fc.native[id.PublicKey()] = 1_000_000
	rec, err = m.RecoverNative(context.Background(), id, dest.PublicKey())
	require.NoError(t, err)
	assert.True(t, rec.Recovered)
	assert.Equal(t, uint64(995_000), rec.Lamports)
	require.Len(t, fc.sent, 1)
	data := fc.sent[0].Message.Instructions[0].Data
	require.Len(t, data, 12)
	assert.Equal(t, uint64(995_000), binary.LittleEndian.Uint64(data[4:]))
}

func TestDiscardDestroysKey(t *testing.T) {
	m := &Manager{Chain: newFakeChain()}
	id, err := m.Generate()
	require.NoError(t, err)
	assert.True(t, id.Disposable())
	assert.True(t, id.Alive())

	id.Discard()
	id.Discard()
	assert.False(t, id.Alive())

	_, err = m.RecoverNative(context.Background(), id, solana.SystemProgramID)
	require.NoError(t, err) // zero balance, nothing to sign

	assert.ErrorIs(t, id.Sign(&solana.Transaction{}), ErrDiscarded)
}

func TestGenerateNeverRepeats(t *testing.T) {
	m := &Manager{Chain: newFakeChain()}
	seen := map[solana.PublicKey]bool{}
	for i := 0; i < 20; i++ {
		id, err := m.Generate()
		require.NoError(t, err)
		assert.False(t, seen[id.PublicKey()])
		seen[id.PublicKey()] = true
		id.Discard()
	}
}

func TestPreserveWritesKeygenFile(t *testing.T) {
	dir := t.TempDir()
	m := &Manager{Chain: newFakeChain(), RecoveryDir: dir}
	id, _ := m.Generate()
	defer id.Discard()

	path, err := m.Preserve(id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, id.Address()+".json"), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var keyBytes []int
	require.NoError(t, json.Unmarshal(b, &keyBytes))
	assert.Len(t, keyBytes, 64)

	restored, err := LoadFunder(path)
	require.NoError(t, err)
	assert.True(t, restored.PublicKey().Equals(id.PublicKey()))
	assert.False(t, restored.Disposable())

	none := &Manager{Chain: newFakeChain()}
	path, err = none.Preserve(id)
	require.NoError(t, err)
	assert.Empty(t, path)
}
