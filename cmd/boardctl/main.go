package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/client"
	"prism-board/config"
)

type app struct {
	logger  *log.Logger
	verbose bool

	url   string
	board string
	token string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{logger: log.New()}
	if err := newRootCmd(a).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "boardctl",
		Short:         "Inspect and seed boards served by a board api",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger.SetOutput(cmd.ErrOrStderr())
			if a.verbose {
				a.logger.SetLevel(log.DebugLevel)
			} else {
				a.logger.SetLevel(log.WarnLevel)
			}
		},
	}
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	flags.StringVar(&a.url, "url", "", "Board api base url (BOARD_URL)")
	flags.StringVar(&a.board, "board", "", "Board id (BOARD_ID)")
	flags.StringVar(&a.token, "token", "", "Bearer token (BOARD_TOKEN)")

	cmd.AddCommand(newDumpCmd(a), newApplyCmd(a), newWatchCmd(a), newTokenCmd(), newStatsCmd())
	return cmd
}

// clientConfig reads the environment and lets flags override it.
func (a *app) clientConfig() (client.Config, error) {
	cfg, err := config.FromEnvWith(client.Config{URL: a.url})
	if err != nil {
		return cfg, err
	}
	if a.url != "" {
		cfg.URL = a.url
	}
	if a.board != "" {
		cfg.BoardID = a.board
	}
	if a.token != "" {
		cfg.Token = a.token
	}
	return cfg, nil
}

// open starts a client. Push channels are only kept when watch is set.
func (a *app) open(ctx context.Context, cfg client.Config, watch bool) (*client.Client, error) {
	if !watch {
		cfg.StreamURL = ""
		cfg.RedisAddr = ""
	}
	c, err := client.New(cfg, client.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func output(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
