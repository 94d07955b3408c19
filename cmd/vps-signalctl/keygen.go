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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sage-x-project/vps-signal/identity"
)

var (
	keygenPath   string
	keygenPrefix string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate (or load) a server identity key and print its serverId",
	Long: `keygen writes a fresh Ed25519 server identity to --path if no key
exists there yet, or loads the existing one unchanged. A server
whose config sets the same identity.key_path uses this same identity, so
running keygen ahead of time lets an operator learn and register a
server's serverId before it ever comes up.`,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&keygenPath, "path", "p", ".vps-signal/identity.json", "key file path")
	keygenCmd.Flags().StringVar(&keygenPrefix, "ephemeral-prefix", "eph", "prefix used for ephemeral pairing-code-derived identities")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	id, err := identity.LoadOrGenerate(keygenPath, keygenPrefix)
	if err != nil {
		return fmt.Errorf("load or generate identity: %w", err)
	}
	short, err := identity.DisplayNodeID(id.NodeID)
	if err != nil {
		return fmt.Errorf("render display nodeId: %w", err)
	}
	fmt.Printf("Server ID:        %s\n", id.ServerID)
	fmt.Printf("Node ID:          %s\n", id.NodeID)
	fmt.Printf("Node ID (base58): %s\n", short)
	fmt.Printf("Key path:         %s\n", keygenPath)
	return nil
}
