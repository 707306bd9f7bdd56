package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"driftd/internal/config"
	"driftd/pkg/drift"
)

func newCheckCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "check [jobs-file]",
		Short: "Validate a jobs file and print upcoming fire times",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := os.Getenv("JOBS_FILE")
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = "jobs.yaml"
			}

			jobs, err := config.LoadJobs(path)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), jobs, time.Now().UTC(), count)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 3, "Number of upcoming instants per job")

	return cmd
}

// printPlan выводит таблицу задач с ближайшими моментами запуска.
func printPlan(w io.Writer, jobs []config.Job, from time.Time, n int) error {
	if n <= 0 {
		n = 1
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCHEDULE\tPOLICY\tNEXT")
	for _, j := range jobs {
		next, err := upcoming(j.Parsed, from, n)
		if err != nil {
			return fmt.Errorf("job %q: %w", j.Name, err)
		}
		parts := make([]string, 0, len(next))
		for _, t := range next {
			parts = append(parts, t.Format(time.RFC3339))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.Name, j.Parsed, j.FailurePolicy, strings.Join(parts, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d job(s) OK\n", len(jobs))
	return err
}

// upcoming возвращает n ближайших запусков. Для интервала первый тик - сразу.
func upcoming(s config.Schedule, from time.Time, n int) ([]time.Time, error) {
	if s.Kind == config.ScheduleCron {
		return drift.NextInstants(s.Cron, from, time.UTC, n)
	}
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.Add(time.Duration(i) * s.Every)
	}
	return out, nil
}
