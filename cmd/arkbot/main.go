// arkbot runs station upkeep jobs for an ARK tribe base and exposes an
// operator dashboard over Telegram.
//
// Usage:
//
//	arkbot run --config ./config.json
//	arkbot validate --config ./config.json
//	arkbot stations --config ./config.json
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"arkbot/internal/app"
	"arkbot/internal/stations"
)

// version is set through ldflags.
var version = "dev"

func main() {
	var cfgPath string

	rootCmd := &cobra.Command{
		Use:           "arkbot",
		Short:         "Priority job scheduler for ARK station upkeep",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "./config.json", "path to config (json, yaml or toml)")

	rootCmd.AddCommand(
		newRunCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newStationsCmd(&cfgPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRunCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot and block until a signal or /shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(*cfgPath)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopUnknown
			select {
			case s := <-sigs:
				reason = app.StopSIGINT
				if s == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Done():
				reason = a.Reason()
			}

			// A second signal forces the remaining stop steps to give up.
			stopCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
			defer cancel()
			go func() {
				select {
				case <-sigs:
					cancel()
				case <-stopCtx.Done():
				}
			}()
			_ = a.Stop(stopCtx, reason)
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

func newValidateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and station file without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Stations.File != "" {
				if _, err := stations.Open(cfg.Stations.File); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", *cfgPath)
			return nil
		},
	}
}

func newStationsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stations",
		Short: "Print the jobs the station file expands to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if cfg.Stations.File == "" {
				return fmt.Errorf("stations.file is not set")
			}
			book, err := stations.Open(cfg.Stations.File)
			if err != nil {
				return err
			}
			jobs := stations.BuildJobs(book.File(), app.StationOptions(cfg), nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tFEATURE\tPRIORITY\tREQUEUE")
			for _, j := range jobs {
				requeue := "once"
				if j.RequeueDelay > 0 {
					requeue = j.RequeueDelay.String()
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", j.Name, j.Kind.Feature, j.Priority, requeue)
			}
			return w.Flush()
		},
	}
}
