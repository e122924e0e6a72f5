package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stealthdca/internal/pipeline"
)

func newSwapCmd(opts *rootOptions) *cobra.Command {
	var (
		req    pipeline.Request
		amount string
	)
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Run one purchase now and print every stage",
		Example: `  stealth-dca swap --from USDC --to SOL --amount 10
  stealth-dca swap --from SOL --to USDC --amount 0.2 --ephemeral --destination <address>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			req.Amount = amt

			a, err := bootstrap(opts, false)
			if err != nil {
				return err
			}
			defer a.close()

			// Interrupts cancel the swap; identity cleanup still runs.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			dca, err := a.dca(ctx)
			if err != nil {
				return err
			}
			return runSwap(ctx, opts, dca, req)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&req.FromAsset, "from", "", "asset to spend")
	fs.StringVar(&req.ToAsset, "to", "", "asset to buy")
	fs.StringVar(&amount, "amount", "", "amount of --from to spend")
	fs.IntVar(&req.SlippageBps, "slippage-bps", 50, "slippage tolerance in basis points")
	fs.StringVar(&req.Destination, "destination", "", "receive the output at this address")
	fs.StringVar(&req.ScreeningAPIKey, "screening-key", "", "screening provider credential (defaults to pipeline.screening_api_key)")
	addPrivacyFlags(fs, &req.Privacy)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

type swapper interface {
	Swap(ctx context.Context, req pipeline.Request, sink pipeline.Sink) (*pipeline.Result, error)
}

func runSwap(ctx context.Context, opts *rootOptions, s swapper, req pipeline.Request) error {
	jsonOut := opts.output == "json"
	var events pipeline.Collector
	sink := pipeline.MultiSink{&events}
	if !jsonOut {
		fmt.Println(styles.title.Render(fmt.Sprintf("swap %s %s → %s", req.Amount, req.FromAsset, req.ToAsset)))
		sink = append(sink, pipeline.SinkFunc(func(e pipeline.Event) {
			fmt.Println(eventLine(e))
		}))
	}

	res, err := s.Swap(ctx, req, sink)
	if jsonOut {
		out := map[string]any{"result": res, "events": events.Events()}
		if err != nil {
			out["error"] = err.Error()
		}
		if werr := writeJSON(os.Stdout, out); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		if res != nil && len(res.Stages) > 0 {
			fmt.Println(styles.box.Render(renderStages(res.Stages)))
		}
		return err
	}
	fmt.Println(renderResult(res))
	return nil
}
