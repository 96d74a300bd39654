package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/naperu/zapinsight/internal/app"
	"github.com/naperu/zapinsight/pkg/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	json bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "zapinsight",
		Short:         "WhatsApp ingestion and commercial insight pipeline",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().BoolVar(&opts.json, "json", false, "Print results as JSON")

	cmd.AddCommand(newPollCmd(opts))
	cmd.AddCommand(newPollContactCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newSyncCmd(opts))
	cmd.AddCommand(newEnrichCmd(opts))
	cmd.AddCommand(newRunsCmd(opts))
	cmd.AddCommand(newEnqueueCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newQueueCmd(opts))
	cmd.AddCommand(newRequeueCmd(opts))
	cmd.AddCommand(newReleaseStaleCmd(opts))
	cmd.AddCommand(newInsightCmd(opts))
	cmd.AddCommand(newPreviewCmd(opts))
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCacheFlushCmd())
	cmd.AddCommand(newMCPCmd())
	return cmd
}

// signalContext is cancelled on SIGINT/SIGTERM so batches stop between items.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(config.Load(), app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()
	return fn(ctx, a)
}

// output prints v as JSON with --json, else calls human.
func (o *rootOptions) output(w io.Writer, v interface{}, human func(w io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	human(w)
	return nil
}

func fprintf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
