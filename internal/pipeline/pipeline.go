package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"stealthdca/internal/chain"
	"stealthdca/internal/models"
	"stealthdca/internal/provider"
	"stealthdca/internal/tokens"
	"stealthdca/internal/wallet"
)

type Config struct {
	// StrictPrivacy aborts a run when a requested privacy stage cannot really execute.
	StrictPrivacy bool
	Retry         chain.RetryPolicy
	RunTimeout    time.Duration
}

type Request struct {
	FromAsset   string              `json:"from_asset" binding:"required"`
	ToAsset     string              `json:"to_asset" binding:"required"`
	Amount      decimal.Decimal     `json:"amount"`
	SlippageBps int                 `json:"slippage_bps"`
	Privacy     models.PrivacyFlags `json:"privacy"`
	// Destination overrides the funder as the receiver of the output.
	Destination     string `json:"destination,omitempty"`
	ScreeningAPIKey string `json:"screening_api_key,omitempty"`
}

func RequestFromSchedule(s models.Schedule, screeningKey string) Request {
	return Request{
		FromAsset:       s.FromAsset,
		ToAsset:         s.ToAsset,
		Amount:          s.Amount,
		SlippageBps:     s.SlippageBps,
		Privacy:         s.Privacy,
		Destination:     s.Destination,
		ScreeningAPIKey: screeningKey,
	}
}

type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"
	OutcomeSimulated Outcome = "simulated"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// StageReport records what a stage really did.
type StageReport struct {
	Stage    Stage   `json:"stage"`
	Outcome  Outcome `json:"outcome"`
	Provider string  `json:"provider,omitempty"`
	Detail   string  `json:"detail,omitempty"`
}

type Result struct {
	Success          bool            `json:"success"`
	Signature        string          `json:"signature,omitempty"`
	OutputAmount     decimal.Decimal `json:"output_amount"`
	OutputAsset      string          `json:"output_asset"`
	Destination      string          `json:"destination"`
	EphemeralAddress string          `json:"ephemeral_address,omitempty"`
	EncryptedAmount  string          `json:"encrypted_amount,omitempty"`
	Stages           []StageReport   `json:"stages"`
}

// StagesJSON is the stage report in the form stored with executions.
func (r *Result) StagesJSON() []byte {
	if r == nil || len(r.Stages) == 0 {
		return nil
	}
	b, err := json.Marshal(r.Stages)
	if err != nil {
		return nil
	}
	return b
}

type Pipeline struct {
	Chain     chain.Client
	Wallet    *wallet.Manager
	Tokens    *tokens.Registry
	Providers provider.Set
	Config    Config
	Logger    *zap.Logger
	Now       func() time.Time
}

// Execute runs the stages in order for funder. It always returns a Result
// carrying the stage report; err is a *StageError when the run failed.
func (p *Pipeline) Execute(ctx context.Context, funder *wallet.Identity, req Request, sink Sink) (*Result, error) {
	if p.Config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Config.RunTimeout)
		defer cancel()
	}
	r := &run{p: p, ctx: ctx, funder: funder, req: req, sink: sink, res: &Result{}}
	if err := r.resolve(); err != nil {
		return r.res, err
	}
	defer r.discard()

	err := r.execute()
	r.res.Success = err == nil
	return r.res, err
}

type run struct {
	p      *Pipeline
	ctx    context.Context
	funder *wallet.Identity
	req    Request
	sink   Sink
	res    *Result

	from, to  tokens.Token
	amountRaw uint64
	// dest receives the output; deliverTo is where stage 6 sends it.
	dest      solana.PublicKey
	deliverTo solana.PublicKey

	identity      *wallet.Identity
	poolDelivered bool
	funded        bool
	quote         *provider.Quote
	realized      uint64
}

func (r *run) resolve() error {
	if r.funder == nil {
		return fmt.Errorf("%w: funder wallet required", ErrInvalidRequest)
	}
	if r.p.Tokens == nil {
		return fmt.Errorf("%w: token registry required", ErrInvalidRequest)
	}
	var err error
	if r.from, err = r.p.Tokens.Lookup(r.req.FromAsset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.to, err = r.p.Tokens.Lookup(r.req.ToAsset); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.from.Mint.Equals(r.to.Mint) {
		return fmt.Errorf("%w: source and destination asset must differ", ErrInvalidRequest)
	}
	if !r.req.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if r.amountRaw, err = r.from.ToRaw(r.req.Amount); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if r.req.SlippageBps <= 0 {
		r.req.SlippageBps = 50
	}
	r.dest = r.funder.PublicKey()
	if d := strings.TrimSpace(r.req.Destination); d != "" {
		if r.dest, err = solana.PublicKeyFromBase58(d); err != nil {
			return fmt.Errorf("%w: destination: %w", ErrInvalidRequest, err)
		}
		if !r.req.Privacy.Disposable() && !r.req.Privacy.UseEncryptedTransfer && !r.dest.Equals(r.funder.PublicKey()) {
			return fmt.Errorf("%w: a custom destination needs use_ephemeral, use_pool or use_encrypted_transfer", ErrInvalidRequest)
		}
	}
	r.deliverTo = r.dest
	if r.req.Privacy.UseEncryptedTransfer {
		r.deliverTo = r.funder.PublicKey()
	}
	r.res.OutputAsset = r.to.Symbol
	r.res.Destination = r.dest.String()
	return nil
}

func (r *run) execute() error {
	if err := r.screen(); err != nil {
		return err
	}
	if err := r.pool(); err != nil {
		return err
	}
	if err := r.fundIdentity(); err != nil {
		return err
	}
	if err := r.quoteStage(); err != nil {
		r.abandon()
		return err
	}
	if err := r.swap(); err != nil {
		r.abandon()
		return err
	}
	if r.identity != nil {
		deliverErr := r.deliver()
		r.recoverNative(r.recoveryTarget())
		if deliverErr != nil {
			return deliverErr
		}
	} else {
		r.realized = r.quote.OutAmount
		r.report(StageDeliver, OutcomeSkipped, "", "output settled on the funder")
		r.report(StageRecover, OutcomeSkipped, "", "no disposable identity")
	}
	r.res.OutputAmount = r.to.FromRaw(r.realized)

	if err := r.encrypt(); err != nil {
		return err
	}
	return r.shield()
}

func (r *run) holder() *wallet.Identity {
	if r.identity != nil {
		return r.identity
	}
	return r.funder
}

// recoveryTarget is the funder, or the final receiver when the output is native SOL.
func (r *run) recoveryTarget() solana.PublicKey {
	if r.to.IsNative() {
		return r.deliverTo
	}
	return r.funder.PublicKey()
}

func (r *run) discard() {
	if r.identity != nil {
		r.identity.Discard()
	}
}

func (r *run) now() time.Time {
	if r.p.Now != nil {
		return r.p.Now()
	}
	return time.Now().UTC()
}

func (r *run) emit(stage Stage, status Status, msg string, detail map[string]string) {
	if r.sink == nil {
		return
	}
	r.sink.Emit(Event{Stage: stage, Status: status, Message: msg, Detail: detail, Time: r.now()})
}

func (r *run) report(stage Stage, outcome Outcome, providerName, detail string) {
	r.res.Stages = append(r.res.Stages, StageReport{Stage: stage, Outcome: outcome, Provider: providerName, Detail: detail})
}

func (r *run) log() *zap.Logger {
	if r.p.Logger == nil {
		return zap.NewNop()
	}
	return r.p.Logger
}
