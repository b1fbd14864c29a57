package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/backend/kserve"
	"github.com/seantiz/benchrunner/internal/backend/sim"
	"github.com/seantiz/benchrunner/internal/config"
	"github.com/seantiz/benchrunner/internal/model"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "benchrunner: %v\n", err)
		os.Exit(2)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	if err := newRootCmd(cfg, logger).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "benchrunner",
		Short:         "Run inference benchmarks against local and remote devices",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCmd(cfg, logger),
		newServeCmd(cfg, logger),
		newBackendsCmd(cfg, logger),
	)
	return root
}

// newRegistry registers the simulated device and, when configured, the remote
// KServe device.
func newRegistry(cfg config.Config, logger *slog.Logger) (*backend.Registry, error) {
	reg := backend.NewRegistry()
	reg.Register("sim", sim.NewBackend(sim.Config{
		Streams:   cfg.SimStreams,
		Latency:   cfg.SimLatency,
		Precision: model.DType(cfg.Precision),
	}, logger))

	if cfg.KServeURL != "" {
		ks, err := kserve.NewBackend(kserve.Config{
			BaseURL:   cfg.KServeURL,
			ModelName: cfg.KServeModel,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("kserve backend: %w", err)
		}
		reg.Register("kserve", ks)
	}
	return reg, nil
}

func newBackendsCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry(cfg, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, b := range reg.List() {
				caps := b.Capabilities
				fmt.Fprintf(out, "%-8s %-24s requests=%d remote=%t precisions=%s\n",
					b.Name, caps.Device, caps.OptimalRequests, caps.Remote, strings.Join(caps.Precisions, ","))
			}
			return nil
		},
	}
}
