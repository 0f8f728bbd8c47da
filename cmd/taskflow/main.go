// TaskFlow CLI — инструмент командной строки для flow и доски job'ов.
//
// Использование:
//
//	taskflow [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	flow      Проверка, порядок и локальный запуск flow spec'ов
//	job       Работа с доской job'ов через API
//	schedule  Проверка файла расписаний
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "taskflow",
		Short:         "TaskFlow CLI — dependency-driven task flows",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("TASKFLOW_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewFlowCmd(clientFn, outputFn),
		cli.NewJobCmd(clientFn, outputFn),
		cli.NewScheduleCmd(outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
