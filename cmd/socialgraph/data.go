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
	"fmt"
	"strings"

	"github.com/AleutianAI/socialgraph/services/graph/schema"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// parseProps turns repeated key=value flags into a property map. Values
// are YAML scalars: 42 is an integer, null or an empty value is null, and
// '"42"' forces a string.
func parseProps(pairs []string) (map[string]any, error) {
	props := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q: want key=value", pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		props[key] = v
	}
	return props, nil
}

func newNodeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Create, read, find and delete nodes",
	}

	var (
		format string
		label  string
		id     string
		props  []string
	)
	cmd.PersistentFlags().StringVar(&format, "format", "json", "Output format: json or yaml")

	put := &cobra.Command{
		Use:   "put",
		Short: "Create or replace a node",
		Example: `  socialgraph node put --label Person --prop name=Ada --prop user_id=42
  socialgraph node put --label PeopleGroup --id eng --prop name=Engineering --prop scope=local`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseProps(props)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				node, err := a.svc.PutNode(cmd.Context(), schema.Label(label), id, values)
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, node)
			})
		},
	}
	put.Flags().StringVar(&label, "label", "", "Node label, e.g. Person")
	put.Flags().StringVar(&id, "id", "", "Node ID (generated when empty)")
	put.Flags().StringArrayVar(&props, "prop", nil, "Property as key=value (repeatable)")
	_ = put.MarkFlagRequired("label")

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				node, err := a.svc.GetNode(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, node)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a node and every edge touching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.svc.DeleteNode(cmd.Context(), args[0]); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).ok("deleted node %s", args[0])
				return nil
			})
		},
	}

	var property, value string
	find := &cobra.Command{
		Use:   "find",
		Short: "List nodes by label, optionally filtered by one property",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if property != "" && !cmd.Flags().Changed("value") {
				return fmt.Errorf("--value is required with --property")
			}
			return withApp(cmd, opts, func(a *app) error {
				var v any
				if property != "" {
					v = value
				}
				nodes, err := a.svc.FindNodes(cmd.Context(), schema.Label(label), property, v)
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, nodes)
			})
		},
	}
	find.Flags().StringVar(&label, "label", "", "Node label")
	find.Flags().StringVar(&property, "property", "", "Property to match")
	find.Flags().StringVar(&value, "value", "", "Value the property must equal")
	_ = find.MarkFlagRequired("label")

	edges := &cobra.Command{
		Use:   "edges ID",
		Short: "List edges into and out of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				out, err := a.svc.EdgesOf(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, out)
			})
		},
	}

	cmd.AddCommand(put, get, del, find, edges)
	return cmd
}

func newEdgeCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Create, read and delete edges",
	}

	var (
		format   string
		label    string
		from, to string
		props    []string
	)
	cmd.PersistentFlags().StringVar(&format, "format", "json", "Output format: json or yaml")

	put := &cobra.Command{
		Use:   "put",
		Short: "Create or replace the edge (label, from, to)",
		Example: `  socialgraph edge put --label KNOWS --from ada --to bob --prop type=associate_of
  socialgraph edge put --label MEMBER_OF --from ada --to eng`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseProps(props)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(a *app) error {
				edge, err := a.svc.PutEdge(cmd.Context(), schema.Label(label), from, to, values)
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, edge)
			})
		},
	}
	put.Flags().StringVar(&label, "label", "", "Edge label, e.g. KNOWS")
	put.Flags().StringVar(&from, "from", "", "Source node ID")
	put.Flags().StringVar(&to, "to", "", "Target node ID")
	put.Flags().StringArrayVar(&props, "prop", nil, "Property as key=value (repeatable)")
	for _, f := range []string{"label", "from", "to"} {
		_ = put.MarkFlagRequired(f)
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print an edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				edge, err := a.svc.GetEdge(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return encode(cmd.OutOrStdout(), format, edge)
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete an edge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(a *app) error {
				if err := a.svc.DeleteEdge(cmd.Context(), args[0]); err != nil {
					return err
				}
				newPrinter(cmd.OutOrStdout()).ok("deleted edge %s", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(put, get, del)
	return cmd
}
