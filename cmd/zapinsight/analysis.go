package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/app"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/spf13/cobra"
)

func newEnqueueCmd(o *rootOptions) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "enqueue <contact-id>",
		Short: "Queue a contact for analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				item, created, err := a.Services.Queue.Enqueue(ctx, id, priority, domain.QueueReasonManual)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), map[string]interface{}{"item": item, "created": created}, func(w io.Writer) {
					if created {
						fprintf(w, "queued %s as item %s\n", id, item.ID)
						return
					}
					fprintf(w, "already %s as item %s (priority %d)\n", item.Status, item.ID, item.Priority)
				})
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", domain.QueuePriorityManual, "Queue rank, lower runs first")
	return cmd
}

func newAnalyzeCmd(o *rootOptions) *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one batch of queued contacts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				summary, err := a.Services.Worker.RunBatch(ctx, batchSize)
				if outErr := o.output(cmd.OutOrStdout(), summary, func(w io.Writer) {
					if summary == nil {
						return
					}
					fprintf(w, "claimed %d: %d completed, %d retried, %d failed (%s)\n",
						summary.Claimed, summary.Completed, summary.Retried, summary.Failed, summary.Duration)
					if summary.RateLimited {
						fprintf(w, "stopped early: rate limited by the model provider\n")
					}
					for _, e := range summary.Errors {
						fprintf(w, "  error: %s\n", e)
					}
				}); outErr != nil {
					return outErr
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch", 0, "Items to analyze (default from ANALYSIS_BATCH_SIZE)")
	return cmd
}

func newQueueCmd(o *rootOptions) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show queue counts and items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.IsQueueStatus(status) {
				return fmt.Errorf("unknown status %q", status)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Services.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				items, err := a.Services.Queue.List(ctx, status, limit)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), map[string]interface{}{"stats": stats, "items": items}, func(w io.Writer) {
					fprintf(w, "pendente %d  processando %d  concluido %d  erro %d  total %d\n",
						stats.Pending, stats.Processing, stats.Done, stats.Failed, stats.Total)
					for _, it := range items {
						line := fmt.Sprintf("%s  %-11s p%d  attempts %d  contact %s", it.ID, it.Status, it.Priority, it.Attempts, it.ContactID)
						if it.LastError != nil {
							line += "  " + *it.LastError
						}
						fprintf(w, "%s\n", line)
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pendente, processando, concluido, erro)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Items to list")
	return cmd
}

func newRequeueCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <item-id>",
		Short: "Queue the contact of a failed item again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				item, err := a.Services.Queue.Requeue(ctx, id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), item, func(w io.Writer) {
					fprintf(w, "requeued as item %s (%s)\n", item.ID, item.Status)
				})
			})
		},
	}
}

func newReleaseStaleCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release-stale",
		Short: "Return items whose lease expired to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Services.Queue.ReleaseStale(ctx)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), map[string]int{"released": n}, func(w io.Writer) {
					fprintf(w, "released %d items\n", n)
				})
			})
		},
	}
}

func newInsightCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "insight <contact-id>",
		Short: "Show the latest insight of a contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				in, err := a.Services.Insight.Get(ctx, id)
				if err != nil {
					return err
				}
				if in == nil {
					return fmt.Errorf("contact %s has not been analyzed yet", id)
				}
				return o.output(cmd.OutOrStdout(), in, func(w io.Writer) {
					printInsight(w, in)
				})
			})
		},
	}
}

func printInsight(w io.Writer, in *domain.Insight) {
	fprintf(w, "conversion %d%% (%s), engagement %d, sentiment %s\n",
		in.ConversionProbability, domain.PriorityForConversion(in.ConversionProbability), in.EngagementScore, in.Sentiment)
	fprintf(w, "summary: %s\n", in.Summary)
	fprintf(w, "next action: %s\n", in.NextAction)
	for label, list := range map[string][]string{"interests": in.Interests, "objections": in.Objections, "triggers": in.PurchaseTriggers} {
		if len(list) > 0 {
			fprintf(w, "%s: %v\n", label, list)
		}
	}
	fprintf(w, "messages: %d (%d in, %d out)\n", in.TotalMessages, in.InboundMessages, in.OutboundMessages)
}

func newPreviewCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "priority <conversion-probability>",
		Short: "Show the priority bucket of a conversion probability",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("probability must be an integer: %w", err)
			}
			preview := service.PreviewPriority(p)
			return o.output(cmd.OutOrStdout(), preview, func(w io.Writer) {
				fprintf(w, "%d%% -> %s\n", preview.ConversionProbability, preview.Priority)
			})
		},
	}
}
