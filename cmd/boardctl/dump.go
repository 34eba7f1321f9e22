package main

import (
	"github.com/spf13/cobra"

	"prism-board/config"
	"prism-board/domain"
)

func newDumpCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the board as a YAML board file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.clientConfig()
			if err != nil {
				return err
			}
			c, err := a.open(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer c.Close()

			st := c.Board.GetState()
			raw, err := config.EncodeBoardFile(domain.Snapshot{
				Cards:   st.Cards,
				Columns: st.Columns,
				Rows:    st.Rows,
				Links:   st.Links,
			}, config.Settings{})
			if err != nil {
				return err
			}
			w, done, err := output(cmd, out)
			if err != nil {
				return err
			}
			if _, err := w.Write(raw); err != nil {
				done()
				return err
			}
			return done()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file, stdout when empty")
	return cmd
}
