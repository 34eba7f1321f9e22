package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"prism-board/board"
	"prism-board/config"
)

type applyStats struct {
	created int
	skipped int
	failed  int
}

func newApplyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <board.yaml>",
		Short: "Create the entities of a board file that the board does not have yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.LoadBoardFile(args[0])
			if err != nil {
				return err
			}
			cfg, err := a.clientConfig()
			if err != nil {
				return err
			}
			cfg.Board = config.BoardConfig(cfg.Board, file.Settings)
			c, err := a.open(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer c.Close()

			stats, err := apply(cmd.Context(), c.Board, file)
			fmt.Fprintf(cmd.OutOrStdout(), "created: %d, skipped: %d, failed: %d\n", stats.created, stats.skipped, stats.failed)
			return err
		},
	}
	return cmd
}

// apply sends one add command per missing entity, parents first, and waits for the backend.
func apply(ctx context.Context, b *board.Board, file *config.BoardFile) (applyStats, error) {
	var (
		stats   applyStats
		pending []board.Pending
	)
	st := b.GetState()
	have := map[string]bool{}
	for _, c := range st.Columns {
		have["column:"+c.ID] = true
	}
	for _, r := range st.Rows {
		have["row:"+r.ID] = true
	}
	for _, c := range st.Cards {
		have["card:"+c.ID] = true
	}
	for _, l := range st.Links {
		have["link:"+l.ID] = true
	}
	exec := func(key string, cmd board.Command) {
		if have[key] {
			stats.skipped++
			return
		}
		pending = append(pending, b.Exec(ctx, cmd))
	}

	for _, c := range file.Columns {
		exec("column:"+c.ID, &board.AddColumn{ID: c.ID, Column: c})
	}
	for _, r := range file.Rows {
		exec("row:"+r.ID, &board.AddRow{ID: r.ID, Row: r})
	}
	for _, c := range file.Cards {
		exec("card:"+c.ID, &board.AddCard{ID: c.ID, Card: c})
	}
	for _, l := range file.Links {
		exec("link:"+l.ID, &board.AddLink{ID: l.ID, Link: l})
	}

	var errs []error
	for _, p := range pending {
		if _, err := p.Wait(ctx); err != nil {
			stats.failed++
			errs = append(errs, err)
			continue
		}
		stats.created++
	}
	return stats, errors.Join(errs...)
}
