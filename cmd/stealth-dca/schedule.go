package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"stealthdca/internal/models"
	"stealthdca/internal/repository"
	"stealthdca/internal/schedule"
)

// Schedule commands run against the store directly. A running daemon
// notices the change through its store watcher.
func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring purchases",
	}
	cmd.AddCommand(
		newScheduleCreateCmd(opts),
		newScheduleListCmd(opts),
		newScheduleShowCmd(opts),
		newScheduleStateCmd(opts, "pause", "Stop a schedule from firing"),
		newScheduleStateCmd(opts, "resume", "Reactivate a paused schedule"),
		newScheduleStateCmd(opts, "cancel", "Delete a schedule"),
		newScheduleHistoryCmd(opts),
		newScheduleNextCmd(opts),
	)
	return cmd
}

func withEngine(opts *rootOptions, fn func(a *app, e *schedule.Engine) error) error {
	a, err := bootstrap(opts, false)
	if err != nil {
		return err
	}
	defer a.close()
	e, err := a.engine(nil)
	if err != nil {
		return err
	}
	return fn(a, e)
}

func newScheduleCreateCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to, amount, freq, dest string
		slippage, total             int
		privacy                     models.PrivacyFlags
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring purchase",
		Example: `  stealth-dca schedule create --from USDC --to SOL --amount 25 --frequency weekly --total 12
  stealth-dca schedule create --from SOL --to JUP --amount 0.5 --frequency daily --ephemeral --screen`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			f, err := models.ParseFrequency(freq)
			if err != nil {
				return err
			}
			var totalPtr *int
			if cmd.Flags().Changed("total") {
				totalPtr = &total
			}
			s, err := models.NewSchedule(models.ScheduleParams{
				FromAsset:       from,
				ToAsset:         to,
				Amount:          amt,
				Frequency:       f,
				SlippageBps:     slippage,
				Privacy:         privacy,
				Destination:     dest,
				TotalExecutions: totalPtr,
			}, time.Now())
			if err != nil {
				return err
			}
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				created, err := e.Create(cmd.Context(), s, nil)
				if err != nil {
					return err
				}
				next, _ := e.NextFireTime(cmd.Context(), created.ID)
				if opts.output == "json" {
					return writeJSON(os.Stdout, created)
				}
				fmt.Println(renderSchedule(*created, next))
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&from, "from", "", "asset to spend")
	fs.StringVar(&to, "to", "", "asset to buy")
	fs.StringVar(&amount, "amount", "", "amount of --from per purchase")
	fs.StringVar(&freq, "frequency", "daily", "hourly|daily|weekly|monthly")
	fs.IntVar(&slippage, "slippage-bps", 50, "slippage tolerance in basis points")
	fs.IntVar(&total, "total", 0, "stop after this many successful purchases")
	fs.StringVar(&dest, "destination", "", "receive the output at this address")
	addPrivacyFlags(fs, &privacy)
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				params := repository.ListSchedulesParams{Limit: 500}
				if activeOnly {
					params.Active = &activeOnly
				}
				items, err := e.List(cmd.Context(), params)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return writeJSON(os.Stdout, items)
				}
				if len(items) == 0 {
					fmt.Println(styles.muted.Render("no schedules"))
					return nil
				}
				for _, s := range items {
					fmt.Println(scheduleRow(s))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active schedules")
	return cmd
}

func newScheduleShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				s, err := e.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				next, err := e.NextFireTime(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return writeJSON(os.Stdout, map[string]any{"schedule": s, "next_fire_time": next})
				}
				fmt.Println(renderSchedule(*s, next))
				return nil
			})
		},
	}
}

func newScheduleStateCmd(opts *rootOptions, verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				var (
					found bool
					err   error
				)
				switch verb {
				case "pause":
					found, err = e.Pause(cmd.Context(), args[0])
				case "resume":
					found, err = e.Resume(cmd.Context(), args[0])
				case "cancel":
					found, err = e.Cancel(cmd.Context(), args[0])
				}
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				if !found {
					return fmt.Errorf("%s: %w", args[0], schedule.ErrNotFound)
				}
				if opts.output == "json" {
					return writeJSON(os.Stdout, map[string]any{"id": args[0], "action": verb, "ok": true})
				}
				fmt.Println(styles.ok.Render("✓ ") + verb + " " + args[0])
				return nil
			})
		},
	}
}

func newScheduleHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show executions of a schedule, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				items, err := e.History(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return writeJSON(os.Stdout, items)
				}
				if len(items) == 0 {
					fmt.Println(styles.muted.Render("no executions"))
					return nil
				}
				for _, ex := range items {
					fmt.Println(executionRow(ex))
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum executions to show")
	return cmd
}

func newScheduleNextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "next <id>",
		Short: "Print the next fire time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(opts, func(a *app, e *schedule.Engine) error {
				next, err := e.NextFireTime(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if opts.output == "json" {
					return writeJSON(os.Stdout, map[string]any{"id": args[0], "next_fire_time": next})
				}
				if next == nil {
					fmt.Println(styles.muted.Render("inactive"))
					return nil
				}
				fmt.Println(next.Local().Format(time.RFC3339))
				return nil
			})
		},
	}
}
