package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"henkan/internal/client"
	"henkan/internal/config"
	"henkan/internal/metrics"
	"henkan/internal/quality"
	"henkan/internal/session"
	"henkan/internal/store"
)

// pushJob is the Pushgateway job name of harness runs.
const pushJob = "henkan_quality"

var runCmd = &cobra.Command{
	Use:   "run <cases>...",
	Short: "Score conversions for one or more case files",
	Long: `Reads cases from JSON, YAML or TSV files (source, reading, expected),
converts each reading through a session and prints "source : mean" per source.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("server-path", "", "Server binary to launch when none is running")
	runCmd.Flags().String("socket", "", "Server socket (overrides session.socket_path)")
	runCmd.Flags().Bool("local", false, "Convert with an in-process session instead of the server")
	runCmd.Flags().String("log-path", "", "Write the per-source means to this file instead of stdout")
	runCmd.Flags().Int("max-cases-per-source", quality.DefaultMaxCasesPerSource, "Maximum scored cases per source")
	runCmd.Flags().String("label", "", "Label stored with the run")
	runCmd.Flags().Bool("no-record", false, "Do not store the run")
	runCmd.Flags().String("push-gateway", "", "Pushgateway URL for run metrics (overrides metrics.push_gateway)")
}

func runQuality(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()

	var cases []quality.Case
	for _, path := range args {
		c, err := quality.LoadCases(path)
		if err != nil {
			return err
		}
		cases = append(cases, c...)
	}

	sess, err := openSession(cmd, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	maxCases, _ := cmd.Flags().GetInt("max-cases-per-source")
	label, _ := cmd.Flags().GetString("label")
	reg := prometheus.NewRegistry()
	opts := quality.Options{
		Client:            sess,
		MaxCasesPerSource: maxCases,
		Label:             label,
		Logger:            logger.Logger,
		Metrics:           metrics.New(reg),
	}
	if noRecord, _ := cmd.Flags().GetBool("no-record"); !noRecord && cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path, cfg.Store.BusyTimeout())
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		opts.Recorder = st
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := quality.NewRunner(opts).Run(ctx, cases)
	if err != nil && report == nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if logPath, _ := cmd.Flags().GetString("log-path"); logPath != "" {
		f, ferr := os.Create(logPath)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		out = f
	}
	if werr := report.WriteMeans(out); werr != nil {
		return werr
	}

	gateway := cfg.Metrics.PushGateway
	if v, _ := cmd.Flags().GetString("push-gateway"); v != "" {
		gateway = v
	}
	if gateway != "" {
		if perr := metrics.Push(ctx, gateway, pushJob, reg, map[string]string{"label": label}); perr != nil {
			return perr
		}
		logger.Debug("pushed run metrics", "gateway", gateway)
	}

	logger.Info("quality run finished",
		"run_id", report.RunID,
		"cases", len(cases),
		"scored", len(report.Results)-report.Failed,
		"failed", report.Failed,
		"invalid", report.Invalid,
		"duration", report.Duration,
	)
	return err
}

// openSession picks the local session or the IPC client. In local mode the
// session has no history so runs do not depend on what was learned before.
func openSession(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) (session.Client, error) {
	if local, _ := cmd.Flags().GetBool("local"); local {
		dict, err := client.LoadDictionary(cfg.Dictionary, logger)
		if err != nil {
			return nil, err
		}
		return client.NewLocal(cfg, dict, nil, logger), nil
	}

	sc := cfg.Session
	if v, _ := cmd.Flags().GetString("server-path"); v != "" {
		sc.ServerPath = v
	}
	if v, _ := cmd.Flags().GetString("socket"); v != "" {
		sc.SocketPath = v
	}
	return client.NewIPC(sc, logger)
}
