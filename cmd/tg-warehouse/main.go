// Command tg-warehouse loads scraped Telegram partitions into the warehouse
// and runs the downstream pipeline around it.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdurezakarage/Shipping-Data-Product/internal/loader"
	"github.com/abdurezakarage/Shipping-Data-Product/internal/query"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Printf("[shutdown] received signal: %v", sig)
		cancel()
	}()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		log.Printf("[main] %v", err)
		cancel()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tg-warehouse",
		Short:         "Load raw Telegram channel data into the warehouse",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.AddCommand(versionCmd(), loadCmd(), loadDetectionsCmd(), serveCmd(), pipelineCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tg-warehouse %s (%s)\n", loader.Version, loader.GitSHA)
		},
	}
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Run one load pass over the data lake",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.loader(ctx)
			if err != nil {
				return err
			}
			sum, err := l.Run(ctx)
			printSummary(cmd.OutOrStdout(), sum)
			return err
		},
	}
}

func loadDetectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load-detections <file>",
		Short: "Append object-detection results (JSON or CSV) to the warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w, err := a.warehouse(ctx)
			if err != nil {
				return err
			}
			n, err := loader.LoadDetections(ctx, w, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d detections from %s\n", n, args[0])
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only analytics API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Warehouse.Driver == "sqlite" {
				return errors.New("serve requires the postgres warehouse")
			}
			store, err := query.Connect(ctx, a.cfg.WarehouseDSN(), a.cfg.API.MartSchema)
			if err != nil {
				return fmt.Errorf("connect query store: %w", err)
			}
			defer store.Close()

			return query.NewServer(store).ListenAndServe(ctx, a.cfg.API.Address)
		},
	}
}

func pipelineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run the load followed by the transformation steps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			runner, err := a.pipeline(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			schedule, _ := cmd.Flags().GetString("schedule")
			if schedule == "" {
				schedule = a.cfg.Pipeline.Schedule
			}
			if schedule != "" {
				return runner.Schedule(ctx, schedule)
			}

			report, err := runner.Run(ctx)
			printReport(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().String("schedule", "", `cron spec for repeated runs (e.g. "0 2 * * *" or "@every 6h")`)
	return cmd
}
