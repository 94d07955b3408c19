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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/sage-x-project/vps-signal/store/postgres"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema a vps-signal server needs",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "Postgres connection string (required)")
	_ = migrateCmd.MarkFlagRequired("dsn")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, migrateDSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	fmt.Println("schema applied")
	return nil
}
