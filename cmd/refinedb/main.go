// Package main provides the RefineDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/refinedb/refinedb/pkg/config"
	"github.com/refinedb/refinedb/pkg/plan"
	"github.com/refinedb/refinedb/pkg/refinedb"
	"github.com/refinedb/refinedb/pkg/schema"
	"github.com/refinedb/refinedb/pkg/vm"
)

var version = "0.1.0"

func main() {
	var configPath string
	var backend string
	var dataDir string
	var namespace string

	loadConfig := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			path = config.FindConfigFile()
		}
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		// Flags override env and file.
		if backend != "" {
			cfg.Storage.Backend = backend
		}
		if dataDir != "" {
			cfg.Storage.DataDir = dataDir
		}
		if namespace != "" {
			cfg.Storage.Namespace = namespace
		}
		return cfg, cfg.Validate()
	}

	openDB := func(ctx context.Context) (*refinedb.DB, error) {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		store, err := refinedb.OpenStore(cfg)
		if err != nil {
			return nil, err
		}
		return refinedb.Open(ctx, store, cfg.Storage.Namespace)
	}

	root := &cobra.Command{
		Use:           "refinedb",
		Short:         "RefineDB - a strongly-typed record layer over ordered KV stores",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to refinedb.yaml")
	root.PersistentFlags().StringVar(&backend, "backend", "", "storage backend: memory | badger | sqlite")
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory")
	root.PersistentFlags().StringVar(&namespace, "namespace", "", "namespace key prefix")

	root.AddCommand(&cobra.Command{
		Use:   "check <schema-file>",
		Short: "Compile a schema and print its normalised form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compiled, err := schema.CompileString(string(src))
			if err != nil {
				return err
			}
			fmt.Print(compiled)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "plan <schema-file>",
		Short: "Build a fresh storage plan for a schema and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compiled, err := schema.CompileString(string(src))
			if err != nil {
				return err
			}
			built, err := plan.Generate(nil, nil, compiled, plan.UUIDSource{})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(built, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "diff <old-plan.json> <old-schema-file> <new-schema-file>",
		Short: "Plan a schema against an existing plan, preserving keys",
		Long: "Reads a previously generated plan and the old and new schema, and prints\n" +
			"the migrated plan. Paths present in both schemas keep their keys.",
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawPlan, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			oldPlan := plan.NewPlan()
			if err := json.Unmarshal(rawPlan, oldPlan); err != nil {
				return err
			}
			oldSrc, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			oldSchema, err := schema.CompileString(string(oldSrc))
			if err != nil {
				return err
			}
			newSrc, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			newSchema, err := schema.CompileString(string(newSrc))
			if err != nil {
				return err
			}
			migrated, err := plan.Generate(oldPlan, oldSchema, newSchema, plan.UUIDSource{})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(migrated, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate <schema-file>",
		Short: "Deploy or migrate the configured database to a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if err := db.Migrate(cmd.Context(), string(src)); err != nil {
				return err
			}
			fmt.Println("migration complete")
			return nil
		},
	})

	var graphName string
	run := &cobra.Command{
		Use:   "run <program-file> [param...]",
		Short: "Execute a graph against the configured database",
		Long: "Executes one graph of a TreeWalker program in a single transaction.\n" +
			"Positional params after the file are passed to the graph; values that\n" +
			"parse as integers become int64, everything else is a string.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			params := make([]vm.Value, 0, len(args)-1)
			for _, raw := range args[1:] {
				if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
					params = append(params, vm.Int64Value(n))
				} else {
					params = append(params, vm.StringValue(raw))
				}
			}
			out, err := db.ExecuteString(cmd.Context(), string(src), graphName, params...)
			if err != nil {
				return err
			}
			if out != nil {
				fmt.Println(renderValue(out))
			}
			return nil
		},
	}
	run.Flags().StringVar(&graphName, "graph", "main", "graph to execute")
	root.AddCommand(run)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// renderValue prints a result value in a compact human form. Resident
// handles are shown by type only; their transaction is already gone.
func renderValue(v vm.Value) string {
	switch x := v.(type) {
	case vm.Prim:
		return x.P.String()
	case vm.Null:
		return "null<" + x.T.String() + ">"
	case *vm.MapVal:
		parts := make([]string, 0, len(x.Fields))
		for name, fv := range x.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", name, renderValue(fv)))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *vm.ListVal:
		var parts []string
		for node := x.Node; node != nil; node = node.Next {
			parts = append(parts, renderValue(node.Value))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<" + vm.TypeOf(v).String() + ">"
	}
}
