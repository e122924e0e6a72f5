package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/require"

	"stealthdca/internal/chain"
	"stealthdca/internal/provider"
	"stealthdca/internal/tokens"
	"stealthdca/internal/wallet"
)

// fakeChain applies system transfers and SPL transferChecked to in-memory balances.
// Token balances are keyed by token account address.
type fakeChain struct {
	mu     sync.Mutex
	native map[solana.PublicKey]uint64
	token  map[solana.PublicKey]uint64
	sent   []*solana.Transaction
	failOn map[int]error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		native: map[solana.PublicKey]uint64{},
		token:  map[solana.PublicKey]uint64{},
		failOn: map[int]error{},
	}
}

func (f *fakeChain) setToken(owner, mint solana.PublicKey, amount uint64) {
	ata, _, _ := solana.FindAssociatedTokenAddress(owner, mint)
	f.mu.Lock()
	f.token[ata] = amount
	f.mu.Unlock()
}

func (f *fakeChain) tokenOf(owner, mint solana.PublicKey) uint64 {
	ata, _, _ := solana.FindAssociatedTokenAddress(owner, mint)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token[ata]
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeChain) NativeBalance(_ context.Context, owner solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.native[owner], nil
}

func (f *fakeChain) TokenBalance(_ context.Context, owner, mint solana.PublicKey) (uint64, error) {
	return f.tokenOf(owner, mint), nil
}

func (f *fakeChain) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.token[account]
	return ok, nil
}

func (f *fakeChain) LatestBlockhash(context.Context) (chain.Blockhash, error) {
	return chain.Blockhash{LastValidBlockHeight: 100}, nil
}

func (f *fakeChain) SendAndConfirm(_ context.Context, tx *solana.Transaction, _ uint64) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.sent)
	f.sent = append(f.sent, tx)
	if err := f.failOn[idx]; err != nil {
		return solana.Signature{}, err
	}
	f.apply(tx)
	return tx.Signatures[0], nil
}

func (f *fakeChain) apply(tx *solana.Transaction) {
	keys := tx.Message.AccountKeys
	for _, ix := range tx.Message.Instructions {
		prog := keys[ix.ProgramIDIndex]
		data := []byte(ix.Data)
		switch {
		case prog.Equals(solana.SystemProgramID) && len(data) == 12 && binary.LittleEndian.Uint32(data[:4]) == 2:
			from, to := keys[ix.Accounts[0]], keys[ix.Accounts[1]]
			amt := binary.LittleEndian.Uint64(data[4:])
			f.native[from] -= amt
			f.native[to] += amt
		case prog.Equals(solana.TokenProgramID) && len(data) >= 9 && data[0] == 12:
			src, dst := keys[ix.Accounts[0]], keys[ix.Accounts[2]]
			amt := binary.LittleEndian.Uint64(data[1:9])
			f.token[src] -= amt
			f.token[dst] += amt
		case prog.Equals(solana.SPLAssociatedTokenAccountProgramID):
			ata := keys[ix.Accounts[1]]
			if _, ok := f.token[ata]; !ok {
				f.token[ata] = 0
			}
		}
	}
}

// fakeQuoter credits the swap output to the swapper when the swap tx is requested.
type fakeQuoter struct {
	chain    *fakeChain
	out      uint64
	inMint   solana.PublicKey
	inAmount uint64
	outMint  solana.PublicKey
	quoteErr error
	quotes   int
}

func (q *fakeQuoter) Name() string { return "fake-quoter" }

func (q *fakeQuoter) Quote(_ context.Context, req provider.QuoteRequest) (*provider.Quote, error) {
	q.quotes++
	if q.quoteErr != nil {
		return nil, q.quoteErr
	}
	q.inMint, q.inAmount, q.outMint = req.InputMint, req.Amount, req.OutputMint
	return &provider.Quote{InAmount: req.Amount, OutAmount: q.out, Raw: json.RawMessage(`{}`)}, nil
}

func (q *fakeQuoter) SwapTransaction(_ context.Context, _ *provider.Quote, user solana.PublicKey) (*provider.SwapTransaction, error) {
	var spent uint64
	if q.inMint.Equals(tokens.NativeMint) {
		spent = q.inAmount
	} else {
		q.chain.setToken(user, q.inMint, q.chain.tokenOf(user, q.inMint)-q.inAmount)
	}
	raw, err := unsignedTransfer(user, solana.SystemProgramID, spent)
	if err != nil {
		return nil, err
	}
	if q.outMint.Equals(tokens.NativeMint) {
		q.chain.mu.Lock()
		q.chain.native[user] += q.out
		q.chain.mu.Unlock()
	} else {
		q.chain.setToken(user, q.outMint, q.chain.tokenOf(user, q.outMint)+q.out)
	}
	return &provider.SwapTransaction{Transaction: raw}, nil
}

// unsignedTransfer is a provider-built transaction moving lamports from payer.
func unsignedTransfer(payer, to solana.PublicKey, lamports uint64) (string, error) {
	tx, err := solana.NewTransaction([]solana.Instruction{
		system.NewTransferInstruction(lamports, payer, to).Build(),
	}, solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return "", err
	}
	tx.Signatures = make([]solana.Signature, 1)
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

var poolVault = solana.NewWallet().PublicKey()

// fakePool is a live pool: deposits hand back a transaction moving the input
// into poolVault, withdrawals credit the recipient directly like a relayer.
type fakePool struct {
	chain       *fakeChain
	depositErr  error
	withdrawErr error
	withdrawn   []provider.PoolTransfer
}

func (p *fakePool) Name() string    { return "fake-pool" }
func (p *fakePool) Simulated() bool { return false }

func (p *fakePool) Deposit(_ context.Context, req provider.PoolTransfer) (*provider.PoolReceipt, error) {
	if p.depositErr != nil {
		return nil, p.depositErr
	}
	raw, err := unsignedTransfer(req.Owner, poolVault, req.Amount)
	if err != nil {
		return nil, err
	}
	return &provider.PoolReceipt{Commitment: "note-1", Transaction: raw}, nil
}

func (p *fakePool) Withdraw(_ context.Context, req provider.PoolTransfer) (*provider.PoolReceipt, error) {
	if p.withdrawErr != nil {
		return nil, p.withdrawErr
	}
	p.withdrawn = append(p.withdrawn, req)
	p.chain.mu.Lock()
	p.chain.native[poolVault] -= req.Amount
	p.chain.native[req.Owner] += req.Amount
	p.chain.mu.Unlock()
	return &provider.PoolReceipt{Commitment: req.Commitment, Signature: "withdraw-sig"}, nil
}

type fakeEncryptor struct {
	err    error
	amount uint64
}

func (e *fakeEncryptor) Name() string    { return "fake-confidential" }
func (e *fakeEncryptor) Simulated() bool { return false }

func (e *fakeEncryptor) EncryptAmount(_ context.Context, amount uint64, _ tokens.Token) (*provider.Ciphertext, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.amount = amount
	return &provider.Ciphertext{Value: "ct:live"}, nil
}

// fakeShielded returns a deposit transaction for the owner to sign.
type fakeShielded struct {
	depositErr  error
	transferErr error
	transfers   int
}

func (s *fakeShielded) Name() string    { return "fake-shielded" }
func (s *fakeShielded) Simulated() bool { return false }

func (s *fakeShielded) Deposit(_ context.Context, owner solana.PublicKey, _ uint64, _ tokens.Token) (*provider.ShieldReceipt, error) {
	if s.depositErr != nil {
		return nil, s.depositErr
	}
	raw, err := unsignedTransfer(owner, poolVault, 0)
	if err != nil {
		return nil, err
	}
	return &provider.ShieldReceipt{Transaction: raw}, nil
}

func (s *fakeShielded) Transfer(_ context.Context, _, _ solana.PublicKey, _ uint64, _ tokens.Token, visibility provider.Visibility) (*provider.ShieldTransfer, error) {
	if s.transferErr != nil {
		return nil, s.transferErr
	}
	s.transfers++
	return &provider.ShieldTransfer{Signature: "shield-sig", AmountHidden: visibility == provider.VisibilityPrivate}, nil
}

type fakeScreener struct {
	verdict provider.Verdict
	err     error
	seen    []string
}

func (s *fakeScreener) Name() string    { return "fake-screen" }
func (s *fakeScreener) Simulated() bool { return false }

func (s *fakeScreener) Screen(_ context.Context, address, _ string) (*provider.Verdict, error) {
	s.seen = append(s.seen, address)
	if s.err != nil {
		return nil, s.err
	}
	v := s.verdict
	v.Address = address
	return &v, nil
}

type harness struct {
	chain    *fakeChain
	quoter   *fakeQuoter
	pipeline *Pipeline
	funder   *wallet.Identity
	reg      *tokens.Registry
	events   *Collector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fc := newFakeChain()
	reg, err := tokens.NewRegistry(nil)
	require.NoError(t, err)
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	funder, err := wallet.NewIdentity(pk, false)
	require.NoError(t, err)
	q := &fakeQuoter{chain: fc, out: 5_000_000}

	p := &Pipeline{
		Chain:  fc,
		Wallet: &wallet.Manager{Chain: fc, RecoveryDir: t.TempDir()},
		Tokens: reg,
		Providers: provider.Set{
			Quoter:    q,
			Screener:  provider.SimulatedScreener{},
			Pool:      provider.SimulatedPool{},
			Shielded:  provider.SimulatedShielded{},
			Encryptor: provider.SimulatedEncryptor{},
		},
		Config: Config{Retry: chain.RetryPolicy{MaxAttempts: 3}},
	}
	return &harness{chain: fc, quoter: q, pipeline: p, funder: funder, reg: reg, events: &Collector{}}
}

func (h *harness) token(t *testing.T, sym string) tokens.Token {
	t.Helper()
	tok, err := h.reg.Lookup(sym)
	require.NoError(t, err)
	return tok
}

func (h *harness) run(t *testing.T, req Request) (*Result, error) {
	t.Helper()
	return h.pipeline.Execute(context.Background(), h.funder, req, h.events)
}

func (h *harness) eventsFor(stage Stage) []Event {
	var out []Event
	for _, e := range h.events.Events() {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

func reportFor(res *Result, stage Stage) (StageReport, bool) {
	for _, s := range res.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageReport{}, false
}

func mustKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return pk
}
