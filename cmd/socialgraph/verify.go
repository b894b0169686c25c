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
	"sort"

	"github.com/AleutianAI/socialgraph/services/graph"
	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/spf13/cobra"
)

// ErrViolationsFound makes `verify` exit non-zero when the audit finds
// anything.
var ErrViolationsFound = errors.New("graph has schema violations")

func newVerifyCmd(opts *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Audit stored nodes and edges against the applied schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				report, err := a.svc.Verify(cmd.Context())
				if err != nil {
					return err
				}
				if format != "" {
					if err := encode(cmd.OutOrStdout(), format, report); err != nil {
						return err
					}
				} else {
					printReport(newPrinter(cmd.OutOrStdout()), report)
				}
				if !report.OK() {
					return fmt.Errorf("%d finding(s): %w", len(report.Findings), ErrViolationsFound)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Output the full report as yaml or json")
	return cmd
}

func printReport(p *printer, report *graph.Report) {
	p.title("schema version %d: scanned %d node(s), %d edge(s)",
		report.SchemaVersion, report.NodesScanned, report.EdgesScanned)
	if report.OK() {
		p.ok("no violations")
		return
	}
	byReason := report.CountByReason()
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, string(r))
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		p.warn("%s: %d", r, byReason[schema.Reason(r)])
	}
	for _, f := range report.Findings {
		p.line("  %s %s: %s", f.Kind, f.ID, f.Violation)
	}
}
