package main

import (
	"bufio"
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/event-admission/internal/offline"
)

// runCmd is the gate loop: it reads one credential per stdin line, scans
// it and keeps the queue syncing in the background.
func runCmd(open opener) *cobra.Command {
	var loc location
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan credentials read from stdin and sync automatically",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			d, err := open(ctx)
			if err != nil {
				return err
			}
			defer d.Close()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				d.engine.Run(ctx, d.client, d.cfg.ProbeInterval, d.cfg.SyncInterval)
				return nil
			})

			// stdin reads block, so they feed a channel the loop can
			// abandon on shutdown.
			lines := make(chan string)
			readErr := make(chan error, 1)
			go func() {
				defer close(lines)
				in := bufio.NewScanner(cmd.InOrStdin())
				for in.Scan() {
					lines <- strings.TrimSpace(in.Text())
				}
				readErr <- in.Err()
			}()

		loop:
			for {
				select {
				case <-ctx.Done():
					break loop
				case raw, ok := <-lines:
					if !ok {
						stop()
						break loop
					}
					if raw == "" {
						continue
					}
					out, err := d.agent.Scan(ctx, raw, loc.value(cmd))
					if err != nil {
						logrus.WithError(err).Error("scan failed")
						continue
					}
					_ = printJSON(cmd.OutOrStdout(), out)
				}
			}
			if err := g.Wait(); err != nil {
				return err
			}
			select {
			case err := <-readErr:
				return err
			default:
				return nil
			}
		},
	}
	loc.register(cmd)
	return cmd
}

// scanCmd submits one credential, or only queues it when queueOnly.
func scanCmd(open opener, queueOnly bool) *cobra.Command {
	var loc location
	use, short := "scan <credential>", "Validate one credential, queueing it when offline"
	if queueOnly {
		use, short = "enqueue <credential>", "Queue one credential for the next sync"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()

			var out offline.Outcome
			if queueOnly {
				out, err = d.agent.Enqueue(cmd.Context(), args[0], loc.value(cmd))
			} else {
				out, err = d.agent.Scan(cmd.Context(), args[0], loc.value(cmd))
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	loc.register(cmd)
	return cmd
}

func syncCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Submit pending queued scans now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(ctx context.Context, e *offline.Engine) (offline.Report, error) {
				if _, err := e.Prune(ctx); err != nil {
					return offline.Report{}, err
				}
				return e.Sync(ctx)
			})
		},
	}
}

func retryCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset failed scans under the retry cap and sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, open, func(ctx context.Context, e *offline.Engine) (offline.Report, error) {
				return e.RetryFailed(ctx)
			})
		},
	}
}

func withEngine(cmd *cobra.Command, open opener, fn func(context.Context, *offline.Engine) (offline.Report, error)) error {
	d, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer d.Close()
	rep, err := fn(cmd.Context(), d.engine)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), rep)
}

func queueCmd(open opener) *cobra.Command {
	q := &cobra.Command{Use: "queue", Short: "Inspect the offline queue"}

	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued scans, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			st := offline.Status(status)
			switch st {
			case "", offline.StatusPending, offline.StatusProcessing, offline.StatusFailed, offline.StatusSynced:
			default:
				return fmt.Errorf("unknown status %q", status)
			}
			entries, err := d.queue.List(cmd.Context(), st)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
	list.Flags().StringVar(&status, "status", "", "pending, processing, failed or synced")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count queued scans per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer d.Close()
			counts, err := d.queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), counts)
		},
	}
	q.AddCommand(list, stats)
	return q
}
