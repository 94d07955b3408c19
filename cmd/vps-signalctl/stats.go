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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var statsServerURL string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print a running server's /stats summary",
	RunE:  runStats,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print a running server's /health snapshot",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
	for _, c := range []*cobra.Command{statsCmd, healthCmd} {
		c.Flags().StringVarP(&statsServerURL, "server", "s", "http://127.0.0.1:8765", "base URL of the vps-signal server")
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	return printJSON(statsServerURL + "/stats")
}

func runHealth(cmd *cobra.Command, args []string) error {
	return printJSON(statsServerURL + "/health")
}

func printJSON(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var pretty map[string]interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return fmt.Errorf("format response: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
