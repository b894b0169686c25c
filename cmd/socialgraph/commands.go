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
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "socialgraph",
		Short: "Manage the social graph schema, data and API",
		Long: `socialgraph stores people, skills, groups and places as a typed property
graph in an embedded Badger database or in Neo4j.

Schema changes ship as versioned migrations. Apply them with
"socialgraph migrate", audit stored data with "socialgraph verify" and
serve the HTTP API with "socialgraph serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"Config file (default ~/.socialgraph/socialgraph.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCmd(opts),
		newSchemaCmd(opts),
		newVerifyCmd(opts),
		newNodeCmd(opts),
		newEdgeCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(a *app) error) (err error) {
	a, err := openApp(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}
