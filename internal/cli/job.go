package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var jobHeaders = []string{"ID", "NAME", "STATE", "OWNER", "POSTED"}

func jobRow(j *JobResponse) []string {
	return []string{j.ID, j.Name, j.State, j.Owner, j.PostedAt}
}

// NewJobCmd создаёт группу команд для работы с доской job'ов.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs on the board",
	}

	cmd.AddCommand(
		newJobListCmd(clientFn, outputFn),
		newJobPostCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobEraseCmd(clientFn, outputFn),
		newJobClaimCmd(clientFn, outputFn),
		newJobUnclaimCmd(clientFn, outputFn),
		newJobLogbookCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListJobsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i := range jobs {
				rows[i] = jobRow(&jobs[i])
			}

			out.Print(jobHeaders, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PostedAfter, "posted-after", "", "Only jobs posted at or after this RFC3339 time")
	cmd.Flags().StringVar(&opts.PostedBefore, "posted-before", "", "Only jobs posted before this RFC3339 time")

	return cmd
}

func newJobPostCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var id string
	var inputs []string

	cmd := &cobra.Command{
		Use:   "post FLOW",
		Short: "Post a job for a registered flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			parsed, err := parseInputs(inputs)
			if err != nil {
				return err
			}

			job, err := client.PostJob(PostJobRequest{ID: id, Name: args[0], Inputs: parsed})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job posted: %s", job.ID))
			out.Print(jobHeaders, [][]string{jobRow(job)}, job)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Job ID (generated if not specified)")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Input values as KEY=VALUE (repeatable)")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ID", "NAME", "STATE", "OWNER", "ERROR", "POSTED", "UPDATED"},
				[][]string{{job.ID, job.Name, job.State, job.Owner, job.Error, job.PostedAt, job.UpdatedAt}},
				job,
			)
			return nil
		},
	}
}

func newJobEraseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "erase ID",
		Short: "Erase a finished job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.EraseJob(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job erased: %s", args[0]))
			return nil
		},
	}
}

func newJobClaimCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "claim ID",
		Short: "Claim a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.ClaimJob(args[0], owner)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job claimed by %s", job.Owner))
			out.Print(jobHeaders, [][]string{jobRow(job)}, job)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Claim owner (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newJobUnclaimCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "unclaim ID",
		Short: "Release a claimed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.UnclaimJob(args[0], owner); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job released: %s", args[0]))
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Current owner (required)")
	cmd.MarkFlagRequired("owner")

	return cmd
}

func newJobLogbookCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "logbook ID",
		Short: "Show the execution history of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			lb, err := client.Logbook(args[0])
			if err != nil {
				return err
			}

			var rows [][]string
			for _, fd := range lb.Flows {
				for _, td := range fd.Tasks {
					rows = append(rows, []string{fd.Name, td.Name, metaString(td.Metadata, "outcome"), formatMetadata(td.Metadata), td.CreatedAt})
				}
			}

			out.Print([]string{"FLOW", "TASK", "OUTCOME", "DETAILS", "RECORDED"}, rows, lb)
			return nil
		},
	}
}

// parseInputs разбирает пары KEY=VALUE.
func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	inputs := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input format %q, expected KEY=VALUE", kv)
		}
		inputs[key] = value
	}
	return inputs, nil
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

// formatMetadata выводит метаданные кроме outcome в виде k=v, по ключам.
func formatMetadata(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		if k != "outcome" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, meta[k]))
	}
	return strings.Join(parts, " ")
}
