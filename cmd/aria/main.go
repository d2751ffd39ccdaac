// Package main provides the aria binary entry point: running workflows
// against a service instance, inspecting executions, and parsing inputs.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apache/incubator-ariatosca-sub004/config"
	"github.com/apache/incubator-ariatosca-sub004/inputs"
	"github.com/apache/incubator-ariatosca-sub004/model"
)

const (
	Version = "0.1.0"
	appName = "aria"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Workflow orchestration engine",
		Long: `Aria runs workflows over a service instance graph: built-in lifecycle
workflows (install, uninstall, start, stop, heal, execute_operation) and
registered custom workflows, executed with retries, cancellation, and a
durable execution record.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(runCmd(&configPath))
	cmd.AddCommand(executionsCmd(&configPath))
	cmd.AddCommand(inputsCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})

	return cmd
}

func runCmd(configPath *string) *cobra.Command {
	var (
		serviceInstanceID string
		inputSources      []string
	)

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow against a service instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			parameters, err := inputs.Parse(inputSources...)
			if err != nil {
				return fmt.Errorf("parse inputs: %w", err)
			}

			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			signalCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.RunWorkflow(signalCtx, args[0], serviceInstanceID, parameters)
		},
	}

	cmd.Flags().StringVarP(&serviceInstanceID, "service-instance", "s", "", "Service instance id to operate on")
	cmd.Flags().StringArrayVarP(&inputSources, "inputs", "i", nil,
		"Workflow inputs: file, directory, glob, inline JSON, or k=v;k=v (repeatable)")

	return cmd
}

func executionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect and manage executions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			executions, err := app.Store.Executions().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list executions: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWORKFLOW\tSTATUS\tCREATED\tERROR")
			for _, e := range executions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.WorkflowName, e.Status, e.CreatedAt.Format("2006-01-02 15:04:05"), e.Error)
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <execution-id>",
		Short: "Cancel a pending execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.CancelExecution(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("execution %s cancelled\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution and its task records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			app, err := NewApp(cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			execution, err := app.Store.Executions().Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load execution: %w", err)
			}
			records, err := app.Store.TaskRecords().Iter(cmd.Context(), func(r *model.TaskRecord) bool {
				return r.ExecutionID == execution.ID
			})
			if err != nil {
				return fmt.Errorf("list task records: %w", err)
			}

			out := map[string]any{"execution": execution, "tasks": records}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(out)
		},
	})

	return cmd
}

func inputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inputs parse <source>...",
		Short: "Parse input sources and print the merged mapping",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] != "parse" {
				return fmt.Errorf("unknown subcommand %q", args[0])
			}
			parsed, err := inputs.Parse(args[1:]...)
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(parsed)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}
	return config.NewLoader(nil).Load()
}
