package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-board/board"
)

const watchTag = "boardctl.watch"

func newWatchCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print changes pushed by the backend until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.clientConfig()
			if err != nil {
				return err
			}
			if cfg.StreamURL == "" && cfg.RedisAddr == "" {
				return fmt.Errorf("watch needs BOARD_STREAM_URL or BOARD_REDIS_ADDR")
			}
			c, err := a.open(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer c.Close()

			watch(c.Board, cmd.OutOrStdout(), asJSON)
			defer c.Board.Detach(watchTag)
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print commands as JSON")
	return cmd
}

// watch prints every synced command applied to b.
func watch(b *board.Board, w io.Writer, asJSON bool) {
	var mu sync.Mutex
	show := func(cmd board.Command) bool {
		mu.Lock()
		defer mu.Unlock()
		if !asJSON {
			fmt.Fprintf(w, "%s %s\n", cmd.Action(), cmd.Target())
			return true
		}
		raw, err := sonic.MarshalString(map[string]any{"action": cmd.Action().String(), "command": cmd})
		if err != nil {
			fmt.Fprintf(w, "%s %s\n", cmd.Action(), cmd.Target())
			return true
		}
		fmt.Fprintln(w, raw)
		return true
	}
	for _, action := range board.Actions() {
		if action.Local() {
			continue
		}
		b.On(action, show, board.ListenOptions{Tag: watchTag})
	}
}
