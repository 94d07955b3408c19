// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/vps-signal/config"
	"github.com/sage-x-project/vps-signal/internal/logger"
	"github.com/sage-x-project/vps-signal/supervisor"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vps-signal",
	Short: "vps-signal - federated WebRTC signaling server",
	Long: `vps-signal runs one node of a federated fleet of signaling servers:
it pairs clients by pairing code, relays WebRTC offer/answer/ICE
messages between paired peers, and replicates rendezvous records
(daily points, hourly tokens, relay announcements) across the fleet
via a consistent hash ring and SWIM-based gossip membership.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling server until interrupted",
	RunE:  runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON config file (defaults applied if omitted)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogConfig(cfg.Logging)

	sup, err := supervisor.New(cfg)
	if err != nil {
		return fmt.Errorf("construct supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("vps-signal: starting", logger.String("listen", fmt.Sprintf("%s:%d", cfg.Network.Host, cfg.Network.Port)))
	if err := sup.Run(ctx); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(configPath)
}

func applyLogConfig(cfg config.LoggingConfig) {
	switch cfg.Level {
	case "debug":
		logger.GetDefaultLogger().SetLevel(logger.DebugLevel)
	case "warn":
		logger.GetDefaultLogger().SetLevel(logger.WarnLevel)
	case "error":
		logger.GetDefaultLogger().SetLevel(logger.ErrorLevel)
	default:
		logger.GetDefaultLogger().SetLevel(logger.InfoLevel)
	}
	if cfg.Format == "pretty" {
		logger.GetDefaultLogger().SetPrettyPrint(true)
	}
}
