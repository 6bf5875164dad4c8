// Labrun Rig — демон стенда: принимает команды с шины, ведёт тесты
// по workflow и публикует статусы.
//
// Rig:
//   - Слушает команды start/stop и подтверждения циклов (RabbitMQ)
//   - Выполняет стадии workflow, держит фоновый нагрев
//   - Публикует статусы и снимки, пишет журнал прогонов (PostgreSQL, опционально)
//   - Отдаёт HTTP API, /healthz и /metrics
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "labrun-rig",
		Short:         "Labrun rig daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (env LABRUN_CONFIG)")

	rootCmd.AddCommand(newValidateCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
