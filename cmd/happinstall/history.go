package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"happinstall/cmd/happinstall/ui"
	"happinstall/internal/adapter/sqlite"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var (
		journalPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "history [run]",
		Short: "Show recorded install runs, or the transitions of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := sqlite.Open(journalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("parse run id %q: %w", args[0], err)
				}
				run, ok, err := journal.GetRun(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("run %d not found", id)
				}
				events, err := journal.RunEvents(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprint(out, ui.KeyValues("",
					ui.KV("Run", strconv.FormatInt(run.ID, 10)),
					ui.KV("Batch", run.Batch),
					ui.KV("Status", ui.Status(run.Status)),
					ui.KV("Completed", fmt.Sprintf("%d/%d", run.Completed, len(run.Apps))),
					ui.KV("Error", orDash(run.Error)),
				))
				rows := make([][]string, 0, len(events))
				for _, ev := range events {
					rows = append(rows, []string{
						strconv.FormatInt(ev.Seq, 10),
						ev.AppID,
						ui.Status(ev.State.String()),
						ev.At.Local().Format(time.TimeOnly),
					})
				}
				fmt.Fprintln(out, ui.Table([]string{"#", "App", "State", "At"}, rows))
				return nil
			}

			runs, err := journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, ui.Muted("no runs recorded"))
				return nil
			}
			fmt.Fprintln(out, ui.Table([]string{"Run", "Batch", "Status", "Apps", "Kind", "Started"}, runRows(runs)))
			return nil
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "SQLite journal written by install --journal")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of runs to show (0 shows all)")
	_ = cmd.MarkFlagRequired("journal")
	return cmd
}

func runRows(runs []sqlite.Run) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.Batch,
			ui.Status(run.Status),
			fmt.Sprintf("%d/%d", run.Completed, len(run.Apps)),
			orDash(run.ErrorKind),
			run.StartedAt.Local().Format(time.DateTime),
		})
	}
	return rows
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
