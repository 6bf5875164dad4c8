package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/shaiso/Labrun/internal/config"
	"github.com/shaiso/Labrun/internal/engine"
	"github.com/shaiso/Labrun/internal/heater"
	"github.com/shaiso/Labrun/internal/steps"
	"github.com/shaiso/Labrun/internal/telemetry"
)

// newValidateCmd проверяет workflow без подключения к брокеру.
func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [WORKFLOW]",
		Short: "Validate a workflow (preset name or file) and print its plan",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			ref := cfg.Workflow.Ref
			if len(args) == 1 {
				ref = args[0]
			}

			plan, err := loadPlan(ref)
			if err != nil {
				return err
			}

			logger := telemetry.NewLogger(os.Stderr, "text", telemetry.LogLevel())
			registry := steps.DefaultRegistry(cfg.Scripts.Dir, cfg.Scripts.Interpreter, logger)
			if missing := registry.Missing(plan.Actions()); len(missing) > 0 {
				return fmt.Errorf("unknown actions: %v", missing)
			}
			catalog := backgroundCatalog(cfg.Heater, logger)
			if plan.Background != "" && !catalog.Has(plan.Background) {
				return fmt.Errorf("unknown background %q (known: %v)", plan.Background, catalog.Names())
			}

			printPlan(plan, catalog)
			return nil
		},
	}
}

func printPlan(plan *engine.Plan, catalog *heater.Catalog) {
	background := plan.Background
	if background == "" {
		background = "-"
	}
	fmt.Fprintf(os.Stderr, "Workflow %s: %d cycles, background %s (available: %v)\n",
		plan.Name, plan.MaxCycles, background, catalog.Names())

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "POS\tNAME\tKIND\tACTION\tCAPTURE")
	for _, s := range plan.Stages() {
		capture := ""
		if s.Step.Capture {
			capture = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			strconv.Itoa(s.Position), s.Step.Name, s.Step.Kind, s.Step.Action, capture)
	}
	tw.Flush()
}
