package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceyewan/dualpath/client"
	"github.com/ceyewan/dualpath/transport"
)

func newGetCmd(flags *rootFlags) *cobra.Command {
	var (
		mode    string
		noCache bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "get <endpoint>",
		Short: "Fetch an endpoint through the request pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, sess, err := openSession(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			var opts []client.CallOption
			if mode != "" {
				m, err := transport.ParseMode(mode)
				if err != nil {
					return err
				}
				opts = append(opts, client.ViaMode(m))
			}
			if noCache {
				opts = append(opts, client.WithCache(false))
			}

			resp, err := sess.Client().Get(ctx, args[0], opts...)
			if err != nil {
				return err
			}
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "status=%d mode=%s path=%s cached=%t fallback=%t\n",
					resp.Status, resp.Mode, resp.Path, resp.Cached, resp.Fallback)
			}
			out := cmd.OutOrStdout()
			if _, err := out.Write(resp.Body); err != nil {
				return err
			}
			_, err = fmt.Fprintln(out)
			return err
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "pin the request to direct or proxied")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the response cache")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print response metadata to stderr")
	return cmd
}
