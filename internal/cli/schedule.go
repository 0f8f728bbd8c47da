package cli

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/taskflow/internal/scheduler"
)

// NewScheduleCmd создаёт группу команд для файла расписаний.
func NewScheduleCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Inspect schedule files",
	}

	cmd.AddCommand(
		newSchedulePreviewCmd(outputFn),
	)

	return cmd
}

// SchedulePreview — расписание и ближайшие публикации.
type SchedulePreview struct {
	Name     string      `json:"name"`
	Flow     string      `json:"flow"`
	Trigger  string      `json:"trigger"`
	Timezone string      `json:"timezone"`
	Enabled  bool        `json:"enabled"`
	Next     []time.Time `json:"next"`
}

func newSchedulePreviewCmd(outputFn func() *Output) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "preview FILE",
		Short: "Validate a schedules file and show upcoming posts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			previews, err := PreviewSchedules(args[0], time.Now().UTC(), count)
			if err != nil {
				return err
			}

			rows := make([][]string, len(previews))
			for i, p := range previews {
				next := make([]string, len(p.Next))
				for j, t := range p.Next {
					next[j] = t.Format(time.RFC3339)
				}
				rows[i] = []string{
					p.Name, p.Flow, p.Trigger, p.Timezone,
					strconv.FormatBool(p.Enabled), strings.Join(next, " "),
				}
			}

			out.Print([]string{"NAME", "FLOW", "TRIGGER", "TZ", "ENABLED", "NEXT"}, rows, previews)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 3, "Number of upcoming posts to show")

	return cmd
}

// PreviewSchedules читает файл расписаний и вычисляет count ближайших
// публикаций каждого расписания начиная с now.
func PreviewSchedules(path string, now time.Time, count int) ([]SchedulePreview, error) {
	schedules, err := scheduler.LoadFile(path, now)
	if err != nil {
		return nil, err
	}

	previews := make([]SchedulePreview, 0, len(schedules))
	for i := range schedules {
		s := &schedules[i]
		p := SchedulePreview{
			Name:     s.Name,
			Flow:     s.FlowName,
			Trigger:  s.CronExpr,
			Timezone: s.Timezone,
			Enabled:  s.Enabled,
		}
		if p.Trigger == "" {
			p.Trigger = formatInterval(s.IntervalSec)
		}

		from := now
		for range count {
			next, err := scheduler.CalculateNextDue(s, from)
			if err != nil {
				return nil, err
			}
			p.Next = append(p.Next, next)
			from = next
		}
		previews = append(previews, p)
	}
	return previews, nil
}

func formatInterval(sec int) string {
	if sec <= 0 {
		return ""
	}
	return "every " + (time.Duration(sec) * time.Second).String()
}
