package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"songconvert/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent jobs and their outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			journal, err := history.Open(cfg)
			if err != nil {
				return err
			}
			defer journal.Close()

			jobs, err := journal.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}
			fmt.Fprint(out, renderTable(
				[]string{"Submitted", "Song", "Status", "Stage", "Duration", "Error"},
				historyRows(jobs),
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of jobs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit jobs as JSON")
	return cmd
}

func historyRows(jobs []history.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		duration := ""
		if job.Duration > 0 {
			duration = job.Duration.Round(time.Second).String()
		}
		message := job.ErrorMessage
		if job.ErrorKind != "" {
			message = job.ErrorKind + ": " + message
		}
		rows = append(rows, []string{
			job.SubmittedAt.Local().Format("2006-01-02 15:04:05"),
			filepath.Base(job.Location),
			string(job.Status),
			job.Stage,
			duration,
			truncate(message, 60),
		})
	}
	return rows
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
