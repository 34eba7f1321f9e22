package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"prism-board/api"
)

func newTokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
		count  int
		prefix string
		start  int
		out    string
	)
	cmd := &cobra.Command{
		Use:   "token [user]",
		Short: "Sign HS256 tokens for a board api running with LOCAL_AUTH_MODE=hs256",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("LOCAL_AUTH_SHARED_SECRET")
			}
			if count < 1 {
				return errors.New("count must be at least 1")
			}
			if start < 1 {
				return errors.New("start index must be at least 1")
			}
			if len(args) > 0 && count > 1 {
				return errors.New("explicit user id cannot be combined with --count")
			}

			tokens := make([]string, count)
			for i := range tokens {
				user := prefix
				switch {
				case len(args) > 0:
					user = args[0]
				case count > 1:
					user = fmt.Sprintf("%s-%d", prefix, start+i)
				}
				tok, err := api.IssueToken([]byte(secret), user, ttl)
				if err != nil {
					return err
				}
				tokens[i] = tok
			}

			if out != "" {
				if err := writeTokens(out, tokens); err != nil {
					return fmt.Errorf("write tokens: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens[0])
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&secret, "secret", "", "Shared secret (LOCAL_AUTH_SHARED_SECRET)")
	flags.DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	flags.IntVar(&count, "count", 1, "Number of tokens to generate")
	flags.StringVar(&prefix, "prefix", "user", "User id, or id prefix when count > 1")
	flags.IntVar(&start, "start", 1, "First index of generated user ids")
	flags.StringVarP(&out, "out", "o", "", "Write every token to this file as a JSON array")
	return cmd
}

func writeTokens(path string, tokens []string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	data, err := sonic.Marshal(tokens)
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}
