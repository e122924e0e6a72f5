package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"stealthdca/internal/chain"
	"stealthdca/internal/provider"
	"stealthdca/internal/wallet"
)

const cleanupTimeout = 2 * time.Minute

func (r *run) screen() error {
	if !r.req.Privacy.UseScreening {
		r.report(StageScreen, OutcomeSkipped, "", "not requested")
		return nil
	}
	r.emit(StageScreen, StatusStart, "screening addresses", nil)
	if strings.TrimSpace(r.req.ScreeningAPIKey) == "" {
		r.emit(StageScreen, StatusWarn, "no screening credential, screening skipped", nil)
		r.report(StageScreen, OutcomeSkipped, "", "no credential")
		return nil
	}
	sc := r.p.Providers.Screener
	if sc == nil || sc.Simulated() {
		if r.p.Config.StrictPrivacy {
			r.emit(StageScreen, StatusFail, "screening provider unavailable", nil)
			r.report(StageScreen, OutcomeFailed, "", "provider unavailable")
			return stageErr(StageScreen, ErrScreeningUnavailable, nil)
		}
		r.emit(StageScreen, StatusWarn, "screening simulated, no real check was made", nil)
		r.report(StageScreen, OutcomeSimulated, provider.SimulatedScreener{}.Name(), "")
		return nil
	}

	addrs := []solana.PublicKey{r.funder.PublicKey()}
	if !r.dest.Equals(r.funder.PublicKey()) {
		addrs = append(addrs, r.dest)
	}
	for _, addr := range addrs {
		v, err := sc.Screen(r.ctx, addr.String(), r.req.ScreeningAPIKey)
		if err != nil {
			detail := map[string]string{"address": addr.String(), "error": err.Error()}
			if r.p.Config.StrictPrivacy {
				r.emit(StageScreen, StatusFail, "screening provider error", detail)
				r.report(StageScreen, OutcomeFailed, sc.Name(), err.Error())
				return stageErr(StageScreen, ErrScreeningUnavailable, err)
			}
			r.emit(StageScreen, StatusWarn, "screening provider error, continuing unscreened", detail)
			r.report(StageScreen, OutcomeSkipped, sc.Name(), err.Error())
			return nil
		}
		if v.Rejected() {
			r.emit(StageScreen, StatusFail, "address rejected by screening", map[string]string{
				"address":    addr.String(),
				"risk_level": string(v.RiskLevel),
				"sanctioned": strconv.FormatBool(v.IsSanctioned),
			})
			r.report(StageScreen, OutcomeFailed, sc.Name(), fmt.Sprintf("%s rejected, risk %s", addr, v.RiskLevel))
			return stageErr(StageScreen, ErrScreeningRejected,
				fmt.Errorf("%s: risk %s, sanctioned %t", addr, v.RiskLevel, v.IsSanctioned))
		}
	}
	r.emit(StageScreen, StatusSuccess, "addresses passed screening", map[string]string{"checked": strconv.Itoa(len(addrs))})
	r.report(StageScreen, OutcomeExecuted, sc.Name(), "")
	return nil
}

func (r *run) pool() error {
	if !r.req.Privacy.UsePool {
		r.report(StagePool, OutcomeSkipped, "", "not requested")
		return nil
	}
	r.emit(StagePool, StatusStart, "routing input through anonymity pool", nil)
	id, err := r.p.Wallet.Generate()
	if err != nil {
		r.emit(StagePool, StatusFail, "identity generation failed", map[string]string{"error": err.Error()})
		r.report(StagePool, OutcomeFailed, "", err.Error())
		return stageErr(StagePool, nil, err)
	}
	r.identity = id
	r.res.EphemeralAddress = id.Address()

	pool := r.p.Providers.Pool
	if pool == nil || pool.Simulated() {
		return r.simulatePool("pool provider unavailable")
	}
	deposited, err := r.poolLive(pool)
	if err != nil {
		if deposited || r.p.Config.StrictPrivacy {
			r.emit(StagePool, StatusFail, "pool transfer failed", map[string]string{"error": err.Error()})
			r.report(StagePool, OutcomeFailed, pool.Name(), err.Error())
			return stageErr(StagePool, ErrPrivacyUnavailable, err)
		}
		return r.simulatePool(err.Error())
	}
	r.poolDelivered = true
	r.emit(StagePool, StatusSuccess, "input withdrawn to disposable identity", map[string]string{"identity": id.Address()})
	r.report(StagePool, OutcomeExecuted, pool.Name(), "")
	return nil
}

// poolLive reports deposited=true once funds left the funder.
func (r *run) poolLive(pool provider.Pool) (bool, error) {
	rec, err := pool.Deposit(r.ctx, provider.PoolTransfer{Asset: r.from, Amount: r.amountRaw, Owner: r.funder.PublicKey()})
	if err != nil {
		return false, fmt.Errorf("deposit: %w", err)
	}
	if rec.Transaction != "" {
		if _, err := r.submitProviderTx(rec.Transaction, r.funder); err != nil {
			return false, fmt.Errorf("submit deposit: %w", err)
		}
	}
	_, err = pool.Withdraw(r.ctx, provider.PoolTransfer{
		Asset:      r.from,
		Amount:     r.amountRaw,
		Owner:      r.identity.PublicKey(),
		Commitment: rec.Commitment,
	})
	if err != nil {
		return true, fmt.Errorf("withdraw: %w", err)
	}
	return true, nil
}

func (r *run) simulatePool(reason string) error {
	if r.p.Config.StrictPrivacy {
		r.emit(StagePool, StatusFail, "anonymity pool unavailable", map[string]string{"reason": reason})
		r.report(StagePool, OutcomeFailed, "", reason)
		return stageErr(StagePool, ErrPrivacyUnavailable, errors.New(reason))
	}
	sim := provider.SimulatedPool{}
	rec, _ := sim.Deposit(r.ctx, provider.PoolTransfer{Asset: r.from, Amount: r.amountRaw, Owner: r.funder.PublicKey()})
	_, _ = sim.Withdraw(r.ctx, provider.PoolTransfer{Asset: r.from, Amount: r.amountRaw, Owner: r.identity.PublicKey(), Commitment: rec.Commitment})
	r.emit(StagePool, StatusWarn, "anonymity pool simulated, input is funded directly", map[string]string{
		"reason":     reason,
		"commitment": rec.Commitment,
	})
	r.report(StagePool, OutcomeSimulated, sim.Name(), reason)
	return nil
}

func (r *run) fundIdentity() error {
	if !r.req.Privacy.Disposable() {
		r.report(StageIdentity, OutcomeSkipped, "", "funder swaps directly")
		return nil
	}
	r.emit(StageIdentity, StatusStart, "funding disposable identity", nil)
	if r.identity == nil {
		id, err := r.p.Wallet.Generate()
		if err != nil {
			r.emit(StageIdentity, StatusFail, "identity generation failed", map[string]string{"error": err.Error()})
			r.report(StageIdentity, OutcomeFailed, "", err.Error())
			return stageErr(StageIdentity, nil, err)
		}
		r.identity = id
		r.res.EphemeralAddress = id.Address()
	}

	req := wallet.FundRequest{Lamports: wallet.RecommendedFunding()}
	switch {
	case r.poolDelivered:
	case r.from.IsNative():
		req.Lamports += r.amountRaw
	default:
		req.Token = &r.from
		req.TokenAmount = r.amountRaw
	}
	sig, err := r.p.Wallet.Fund(r.ctx, r.funder, r.identity, req)
	if err != nil {
		r.emit(StageIdentity, StatusFail, "funding failed", map[string]string{"error": err.Error()})
		r.report(StageIdentity, OutcomeFailed, "", err.Error())
		return stageErr(StageIdentity, nil, err)
	}
	r.funded = true
	r.emit(StageIdentity, StatusSuccess, "disposable identity funded", map[string]string{
		"identity":  r.identity.Address(),
		"lamports":  strconv.FormatUint(req.Lamports, 10),
		"signature": sig,
	})
	r.report(StageIdentity, OutcomeExecuted, "", r.identity.Address())
	return nil
}

func (r *run) quoteStage() error {
	r.emit(StageQuote, StatusStart, "requesting quote", nil)
	q := r.p.Providers.Quoter
	if q == nil {
		r.emit(StageQuote, StatusFail, "no quote provider", nil)
		r.report(StageQuote, OutcomeFailed, "", "no quote provider")
		return stageErr(StageQuote, ErrQuoteFailed, nil)
	}
	quote, err := q.Quote(r.ctx, provider.QuoteRequest{
		InputMint:   r.from.Mint,
		OutputMint:  r.to.Mint,
		Amount:      r.amountRaw,
		SlippageBps: r.req.SlippageBps,
	})
	if err != nil {
		r.emit(StageQuote, StatusFail, "quote failed", map[string]string{"error": err.Error()})
		r.report(StageQuote, OutcomeFailed, q.Name(), err.Error())
		return stageErr(StageQuote, ErrQuoteFailed, err)
	}
	r.quote = quote
	r.emit(StageQuote, StatusSuccess, "quote received", map[string]string{
		"in_amount":        r.from.FromRaw(quote.InAmount).String(),
		"out_amount":       r.to.FromRaw(quote.OutAmount).String(),
		"price_impact_pct": quote.PriceImpactPct,
	})
	r.report(StageQuote, OutcomeExecuted, q.Name(), "")
	return nil
}

func (r *run) swap() error {
	r.emit(StageSwap, StatusStart, "submitting swap", nil)
	q := r.p.Providers.Quoter
	holder := r.holder()
	stx, err := q.SwapTransaction(r.ctx, r.quote, holder.PublicKey())
	if err != nil {
		r.emit(StageSwap, StatusFail, "swap transaction unavailable", map[string]string{"error": err.Error()})
		r.report(StageSwap, OutcomeFailed, q.Name(), err.Error())
		return stageErr(StageSwap, ErrSwapFailed, err)
	}
	sig, err := r.submitProviderTx(stx.Transaction, holder)
	if err != nil {
		r.emit(StageSwap, StatusFail, "swap failed", map[string]string{"error": err.Error()})
		r.report(StageSwap, OutcomeFailed, q.Name(), err.Error())
		return stageErr(StageSwap, ErrSwapFailed, err)
	}
	r.res.Signature = sig
	r.emit(StageSwap, StatusSuccess, "swap confirmed", map[string]string{"signature": sig})
	r.report(StageSwap, OutcomeExecuted, q.Name(), sig)
	return nil
}

func (r *run) deliver() error {
	r.emit(StageDeliver, StatusStart, "delivering output", nil)
	bal, err := r.p.Wallet.AssetBalance(r.ctx, r.identity.PublicKey(), r.to)
	if err != nil {
		return r.deliveryFailure(err)
	}
	if bal == 0 {
		if !r.to.IsNative() {
			return r.deliveryFailure(fmt.Errorf("no %s balance after swap", r.to.Symbol))
		}
		r.realized = r.quote.OutAmount
		r.emit(StageDeliver, StatusSuccess, "native output, no token transfer needed", nil)
		r.report(StageDeliver, OutcomeExecuted, "", "native output")
		return nil
	}
	r.realized = bal
	sig, err := r.p.Wallet.SendToDestination(r.ctx, r.identity, r.deliverTo, r.to, bal)
	if err != nil {
		return r.deliveryFailure(err)
	}
	r.emit(StageDeliver, StatusSuccess, "output delivered", map[string]string{
		"destination": r.deliverTo.String(),
		"amount":      r.to.FromRaw(bal).String(),
		"signature":   sig,
	})
	r.report(StageDeliver, OutcomeExecuted, "", sig)
	return nil
}

func (r *run) deliveryFailure(cause error) error {
	detail := map[string]string{"error": cause.Error()}
	if path, err := r.p.Wallet.Preserve(r.identity); err != nil {
		detail["preserve_error"] = err.Error()
	} else if path != "" {
		detail["key_file"] = path
	}
	r.emit(StageDeliver, StatusFail, "output delivery failed", detail)
	r.report(StageDeliver, OutcomeFailed, "", cause.Error())
	return stageErr(StageDeliver, ErrDeliveryFailed, cause)
}

// recoverNative sweeps leftover native balance. Failures are reported and swallowed.
func (r *run) recoverNative(target solana.PublicKey) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), cleanupTimeout)
	defer cancel()

	r.emit(StageRecover, StatusStart, "recovering leftover balance", nil)
	rec, err := r.p.Wallet.RecoverNative(ctx, r.identity, target)
	if err != nil {
		r.log().Warn("native recovery failed", zap.String("identity", r.identity.Address()), zap.Error(err))
		r.emit(StageRecover, StatusWarn, "recovery failed", map[string]string{"error": err.Error()})
		r.report(StageRecover, OutcomeFailed, "", err.Error())
		return
	}
	if !rec.Recovered {
		r.emit(StageRecover, StatusSuccess, "nothing to recover", map[string]string{"balance": strconv.FormatUint(rec.Balance, 10)})
		r.report(StageRecover, OutcomeExecuted, "", "below reserve")
		return
	}
	r.emit(StageRecover, StatusSuccess, "leftover balance recovered", map[string]string{
		"lamports":    strconv.FormatUint(rec.Lamports, 10),
		"destination": target.String(),
		"signature":   rec.Signature,
	})
	r.report(StageRecover, OutcomeExecuted, "", rec.Signature)
}

// abandon returns what a funded identity still holds after the swap failed.
func (r *run) abandon() {
	if r.identity == nil {
		return
	}
	if !r.funded {
		if r.poolDelivered {
			if path, err := r.p.Wallet.Preserve(r.identity); err == nil && path != "" {
				r.emit(StageRecover, StatusWarn, "pool output left on unfunded identity, key preserved", map[string]string{"key_file": path})
			}
		}
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), cleanupTimeout)
	r.salvageOutput(ctx)
	if !r.from.IsNative() {
		bal, err := r.p.Wallet.AssetBalance(ctx, r.identity.PublicKey(), r.from)
		if err == nil && bal > 0 {
			_, err = r.p.Wallet.SendToDestination(ctx, r.identity, r.funder.PublicKey(), r.from, bal)
		}
		if err != nil {
			detail := map[string]string{"error": err.Error()}
			if path, perr := r.p.Wallet.Preserve(r.identity); perr == nil && path != "" {
				detail["key_file"] = path
			}
			r.emit(StageRecover, StatusWarn, "could not return input to funder", detail)
		}
	}
	cancel()
	r.recoverNative(r.funder.PublicKey())
}

// salvageOutput delivers token output of a swap that landed although its
// confirmation failed. Native output is swept by recoverNative.
func (r *run) salvageOutput(ctx context.Context) {
	if r.quote == nil || r.to.IsNative() {
		return
	}
	bal, err := r.p.Wallet.AssetBalance(ctx, r.identity.PublicKey(), r.to)
	if err == nil && bal == 0 {
		return
	}
	r.emit(StageDeliver, StatusStart, "delivering output of the unconfirmed swap", nil)
	var sig string
	if err == nil {
		sig, err = r.p.Wallet.SendToDestination(ctx, r.identity, r.deliverTo, r.to, bal)
	}
	if err != nil {
		detail := map[string]string{"error": err.Error()}
		if path, perr := r.p.Wallet.Preserve(r.identity); perr == nil && path != "" {
			detail["key_file"] = path
		}
		r.emit(StageDeliver, StatusFail, "swap output not delivered", detail)
		r.report(StageDeliver, OutcomeFailed, "", err.Error())
		return
	}
	r.emit(StageDeliver, StatusWarn, "swap landed despite the failed confirmation, output delivered", map[string]string{
		"destination": r.deliverTo.String(),
		"amount":      r.to.FromRaw(bal).String(),
		"signature":   sig,
	})
	r.report(StageDeliver, OutcomeExecuted, "", sig)
}

func (r *run) encrypt() error {
	if !r.req.Privacy.UseConfidential {
		r.report(StageEncrypt, OutcomeSkipped, "", "not requested")
		return nil
	}
	r.emit(StageEncrypt, StatusStart, "encrypting output amount", nil)
	enc := r.p.Providers.Encryptor
	if enc == nil || enc.Simulated() {
		return r.simulateEncrypt("confidential provider unavailable")
	}
	c, err := enc.EncryptAmount(r.ctx, r.realized, r.to)
	if err != nil {
		return r.simulateEncrypt(err.Error())
	}
	r.res.EncryptedAmount = c.Value
	r.emit(StageEncrypt, StatusSuccess, "output amount encrypted", nil)
	r.report(StageEncrypt, OutcomeExecuted, enc.Name(), "")
	return nil
}

func (r *run) simulateEncrypt(reason string) error {
	if r.p.Config.StrictPrivacy {
		r.emit(StageEncrypt, StatusFail, "confidential encryption unavailable", map[string]string{"reason": reason})
		r.report(StageEncrypt, OutcomeFailed, "", reason)
		return stageErr(StageEncrypt, ErrPrivacyUnavailable, errors.New(reason))
	}
	sim := provider.SimulatedEncryptor{}
	c, _ := sim.EncryptAmount(r.ctx, r.realized, r.to)
	r.res.EncryptedAmount = c.Value
	r.emit(StageEncrypt, StatusWarn, "encryption simulated, amount is not hidden", map[string]string{"reason": reason})
	r.report(StageEncrypt, OutcomeSimulated, sim.Name(), reason)
	return nil
}

func (r *run) shield() error {
	if !r.req.Privacy.UseEncryptedTransfer {
		r.report(StageShield, OutcomeSkipped, "", "not requested")
		return nil
	}
	r.emit(StageShield, StatusStart, "moving output through shielded pool", nil)
	sh := r.p.Providers.Shielded
	if sh == nil || sh.Simulated() {
		return r.simulateShield("shielded provider unavailable")
	}
	rec, err := sh.Deposit(r.ctx, r.funder.PublicKey(), r.realized, r.to)
	if err != nil {
		return r.simulateShield(fmt.Sprintf("deposit: %v", err))
	}
	if rec.Transaction != "" {
		if _, err := r.submitProviderTx(rec.Transaction, r.funder); err != nil {
			return r.simulateShield(fmt.Sprintf("submit deposit: %v", err))
		}
	}
	tr, err := sh.Transfer(r.ctx, r.funder.PublicKey(), r.dest, r.realized, r.to, provider.VisibilityPrivate)
	if err != nil {
		return r.simulateShield(fmt.Sprintf("transfer: %v (deposited balance stays with the funder)", err))
	}
	r.emit(StageShield, StatusSuccess, "output transferred with hidden amount", map[string]string{
		"destination":   r.dest.String(),
		"signature":     tr.Signature,
		"amount_hidden": strconv.FormatBool(tr.AmountHidden),
	})
	r.report(StageShield, OutcomeExecuted, sh.Name(), tr.Signature)
	return nil
}

func (r *run) simulateShield(reason string) error {
	if r.p.Config.StrictPrivacy {
		r.emit(StageShield, StatusFail, "shielded transfer unavailable", map[string]string{"reason": reason})
		r.report(StageShield, OutcomeFailed, "", reason)
		return stageErr(StageShield, ErrPrivacyUnavailable, errors.New(reason))
	}
	sim := provider.SimulatedShielded{}
	_, _ = sim.Transfer(r.ctx, r.funder.PublicKey(), r.dest, r.realized, r.to, provider.VisibilityPrivate)
	r.emit(StageShield, StatusWarn, "shielded transfer simulated, output stays with the funder", map[string]string{"reason": reason})
	r.report(StageShield, OutcomeSimulated, sim.Name(), reason)
	return nil
}

func (r *run) submitProviderTx(raw string, signer chain.Signer) (string, error) {
	sig, err := chain.Submit(r.ctx, r.p.Chain, r.p.Config.Retry, func(bh solana.Hash) (*solana.Transaction, error) {
		return chain.SignProviderTransaction(raw, bh, signer)
	})
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
