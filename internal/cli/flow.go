package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskflow/internal/steps"
	"github.com/shaiso/taskflow/internal/telemetry"
)

// ErrFlowFailed возвращается `flow run`, если job завершился с FAILURE.
var ErrFlowFailed = errors.New("flow failed")

// NewFlowCmd создаёт группу команд для работы с flow.
//
// validate, order и run работают локально со spec-файлом,
// list обращается к API.
func NewFlowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Inspect and run flows",
	}

	cmd.AddCommand(
		newFlowListCmd(clientFn, outputFn),
		newFlowValidateCmd(outputFn),
		newFlowOrderCmd(outputFn),
		newFlowRunCmd(outputFn),
	)

	return cmd
}

func newFlowListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List flows registered on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			flows, err := client.ListFlows()
			if err != nil {
				return err
			}

			rows := make([][]string, len(flows))
			for i, f := range flows {
				rows[i] = []string{f.Name, strings.Join(f.Tasks, ","), strings.Join(f.Steps, ","), f.Description}
			}

			out.Print([]string{"NAME", "TASKS", "STEPS", "DESCRIPTION"}, rows, flows)
			return nil
		},
	}
}

func newFlowValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a flow spec file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			spec, flow, err := LoadFlow(args[0], steps.DefaultRegistry())
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Flow %q is valid: %d tasks, steps: %s",
				spec.Name, len(flow.Tasks()), strings.Join(steps.Kinds(spec), ", ")))
			return nil
		},
	}
}

func newFlowOrderCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "order FILE",
		Short: "Print the execution order of a flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			_, flow, err := LoadFlow(args[0], steps.DefaultRegistry())
			if err != nil {
				return err
			}

			order, err := flow.Order()
			if err != nil {
				return err
			}

			type orderEntry struct {
				Position int      `json:"position"`
				Task     string   `json:"task"`
				Requires []string `json:"requires,omitempty"`
				Provides []string `json:"provides,omitempty"`
				Revert   bool     `json:"revert"`
			}

			entries := make([]orderEntry, len(order))
			rows := make([][]string, len(order))
			for i, t := range order {
				entries[i] = orderEntry{
					Position: i + 1,
					Task:     t.Name(),
					Requires: t.Requires(),
					Provides: t.Provides(),
					Revert:   t.HasRevert(),
				}
				rows[i] = []string{
					strconv.Itoa(i + 1),
					t.Name(),
					strings.Join(t.Requires(), ","),
					strings.Join(t.Provides(), ","),
					strconv.FormatBool(t.HasRevert()),
				}
			}

			out.Print([]string{"#", "TASK", "REQUIRES", "PROVIDES", "REVERT"}, rows, entries)
			return nil
		},
	}
}

func newFlowRunCmd(outputFn func() *Output) *cobra.Command {
	var inputs []string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a flow locally with in-memory storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			registry := steps.DefaultRegistry()
			spec, _, err := LoadFlow(args[0], registry)
			if err != nil {
				return err
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := telemetry.NewLogger(out.errW, "text", level)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			result, err := RunLocal(ctx, spec, parsed, registry, logger)
			if err != nil {
				return err
			}

			var rows [][]string
			for _, fd := range result.Flows {
				for _, td := range fd.Tasks {
					rows = append(rows, []string{td.Name, metaString(td.Metadata, "outcome"), formatMetadata(td.Metadata)})
				}
			}
			out.Print([]string{"TASK", "OUTCOME", "DETAILS"}, rows, result)

			if !result.Succeeded() {
				return fmt.Errorf("%w: %s", ErrFlowFailed, result.Job.Error)
			}
			out.Success(fmt.Sprintf("Flow %q finished: %s", spec.Name, result.Job.State))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log flow progress to stderr")

	return cmd
}
