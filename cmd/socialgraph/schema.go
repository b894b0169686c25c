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
	"github.com/AleutianAI/socialgraph/services/graph/migrations"
	"github.com/spf13/cobra"
)

func newSchemaCmd(opts *globalOptions) *cobra.Command {
	var (
		version int
		format  string
	)

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the graph schema",
		Long: `Print the schema at the store's applied version, or at --version
without touching the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("version") {
				sch, err := migrations.Default().SchemaAt(version)
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, sch)
			}
			return withApp(cmd, opts, func(a *app) error {
				sch, err := a.svc.Schema(cmd.Context())
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, sch)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "Schema version to print instead of the applied one")
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	return cmd
}
