// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *globalOptions) *cobra.Command {
	var (
		target int
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending migrations in version order, up to --target or the latest
registered version. Already applied migrations are skipped, so running
migrate twice is a no-op. The ledger is validated first and nothing is
applied if a recorded checksum no longer matches.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				ctx := cmd.Context()
				p := newPrinter(cmd.OutOrStdout())

				if dryRun {
					steps, err := a.svc.Plan(ctx, target)
					if err != nil {
						return err
					}
					if len(steps) == 0 {
						p.ok("schema is up to date")
						return nil
					}
					for _, step := range steps {
						p.title("%s  (%s)", step.Name, step.Checksum[:12])
						for _, c := range step.Changes {
							p.line("  - %s", c)
						}
						for _, stmt := range step.Statements {
							p.line("    %s", stmt)
						}
					}
					p.line("%d migration(s) would be applied", len(steps))
					return nil
				}

				applied, err := a.svc.Migrate(ctx, target)
				for _, rec := range applied {
					p.ok("applied V%04d %s (%s)", rec.Version, rec.Description, rec.Duration)
				}
				if err != nil {
					return err
				}
				if len(applied) == 0 {
					p.ok("schema is up to date")
				}
				version, err := a.svc.Runner().CurrentVersion(ctx)
				if err != nil {
					return err
				}
				p.line("schema version %d", version)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&target, "target", 0, "Highest version to apply (0 = latest)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be applied without applying it")

	cmd.AddCommand(newMigrateStatusCmd(opts), newMigrateValidateCmd(opts))
	return cmd
}

func newMigrateStatusCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether each is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				rows, err := a.svc.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				if format != "" {
					return encode(cmd.OutOrStdout(), format, rows)
				}
				newPrinter(cmd.OutOrStdout()).migrationTable(rows)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output as yaml or json instead of a table")
	return cmd
}

func newMigrateValidateCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check applied migrations against the registered ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				p := newPrinter(cmd.OutOrStdout())
				if err := a.svc.Runner().Validate(cmd.Context()); err != nil {
					var joined interface{ Unwrap() []error }
					if errors.As(err, &joined) {
						for _, e := range joined.Unwrap() {
							p.warn("%v", e)
						}
					} else {
						p.warn("%v", err)
					}
					return fmt.Errorf("migration ledger is inconsistent: %w", err)
				}
				p.ok("migration ledger is consistent")
				return nil
			})
		},
	}
}
