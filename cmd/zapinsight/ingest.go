package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/naperu/zapinsight/internal/app"
	"github.com/naperu/zapinsight/internal/domain"
	"github.com/naperu/zapinsight/internal/service"
	"github.com/spf13/cobra"
)

func printRun(w io.Writer, run *domain.RunSummary) {
	if run == nil {
		return
	}
	fprintf(w, "%s run %s (%s)\n", run.Mode, run.ID, run.Duration)
	fprintf(w, "  contacts: %d created, %d updated\n", run.ContactsCreated, run.ContactsUpdated)
	fprintf(w, "  messages: %d created, %d updated, %d duplicates, %d skipped, %d failed\n",
		run.MessagesCreated, run.MessagesUpdated, run.Duplicates, run.Skipped, run.Failed)
	fprintf(w, "  enqueued: %d\n", run.Enqueued)
	for _, e := range run.Errors {
		fprintf(w, "  error: %s\n", e)
	}
}

// runCommand prints the summary even when the run failed part-way.
func (o *rootOptions) runCommand(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (*domain.RunSummary, error)) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		run, err := fn(ctx, a)
		if outErr := o.output(cmd.OutOrStdout(), run, func(w io.Writer) { printRun(w, run) }); outErr != nil {
			return outErr
		}
		return err
	})
}

func newPollCmd(o *rootOptions) *cobra.Command {
	var chatLimit, messageLimit int
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll recent chats and ingest their new messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runCommand(cmd, func(ctx context.Context, a *app.App) (*domain.RunSummary, error) {
				return a.Services.Ingest.PollChats(ctx, chatLimit, messageLimit)
			})
		},
	}
	cmd.Flags().IntVar(&chatLimit, "chats", 0, "Chats to poll (default from POLL_CHAT_LIMIT)")
	cmd.Flags().IntVar(&messageLimit, "messages", 0, "Messages per chat (default from POLL_MESSAGE_LIMIT)")
	return cmd
}

func newPollContactCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "poll-contact <contact-id>",
		Short: "Poll the conversation of one stored contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return o.runCommand(cmd, func(ctx context.Context, a *app.App) (*domain.RunSummary, error) {
				return a.Services.Ingest.PollContact(ctx, id, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Messages to fetch")
	return cmd
}

func newHistoryCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <phone-or-address>",
		Short: "Fetch the history of any individual address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runCommand(cmd, func(ctx context.Context, a *app.App) (*domain.RunSummary, error) {
				return a.Services.Ingest.FetchHistory(ctx, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Messages to fetch")
	return cmd
}

func newSyncCmd(o *rootOptions) *cobra.Command {
	var opts service.SyncOptions
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Import the gateway contact book and/or backfill messages",
		Long: "Runs a full sync in the foreground. Without --contacts or --messages both phases run.\n" +
			"Interrupting stops between contacts and prints the partial summary.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.runCommand(cmd, func(ctx context.Context, a *app.App) (*domain.RunSummary, error) {
				return a.Services.Ingest.FullSync(ctx, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Contacts, "contacts", false, "Import contacts")
	cmd.Flags().BoolVar(&opts.Messages, "messages", false, "Backfill messages")
	cmd.Flags().IntVar(&opts.MessageLimit, "message-limit", 0, "Messages per contact")
	cmd.Flags().IntVar(&opts.MaxContacts, "max-contacts", 0, "Stop after this many contacts (0 = all)")
	return cmd
}

func newEnrichCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich <contact-id>",
		Short: "Refresh a contact's gateway profile and mirror its avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid contact id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				c, err := a.Services.Resolver.EnrichByID(ctx, id)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), c, func(w io.Writer) {
					fprintf(w, "%s %s\n", c.Phone, c.DisplayName())
					if c.AvatarURL != nil {
						fprintf(w, "  avatar: %s\n", *c.AvatarURL)
					}
				})
			})
		},
	}
}

func newRunsCmd(o *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				runs, err := a.Services.Ingest.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				return o.output(cmd.OutOrStdout(), runs, func(w io.Writer) {
					for _, r := range runs {
						state := "done"
						if r.Running {
							state = "running"
						}
						fprintf(w, "%s  %-12s %-8s %s  +%d msgs  %d errors\n",
							r.StartedAt.Format("2006-01-02 15:04"), r.Mode, state, r.ID, r.MessagesCreated, len(r.Errors))
					}
					if len(runs) == 0 {
						fprintf(w, "no runs recorded\n")
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Runs to list")
	return cmd
}
