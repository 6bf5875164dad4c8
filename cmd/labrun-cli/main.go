// Labrun CLI — инструмент оператора стенда: запуск и остановка тестов,
// подтверждение циклов и просмотр истории через HTTP API.
//
// Использование:
//
//	labrun [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	test      Управление тестами
//	workflow  Просмотр загруженного workflow
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Labrun/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	defaultURL := "http://localhost:8080"
	if v := os.Getenv("LABRUN_API_URL"); v != "" {
		defaultURL = v
	}

	rootCmd := &cobra.Command{
		Use:           "labrun",
		Short:         "Labrun CLI — lab test rig control",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", defaultURL, "Rig API URL (env LABRUN_API_URL)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTestCmd(clientFn, outputFn),
		cli.NewWorkflowCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
