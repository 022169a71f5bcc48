package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"

	"github.com/ceyewan/dualpath/monitor"
	"github.com/ceyewan/dualpath/transport"
)

func newProbeCmd(flags *rootFlags) *cobra.Command {
	var (
		output     string
		retry      bool
		startProxy bool
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run every connectivity probe once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			_, _, sess, err := openSession(ctx, flags)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			var state monitor.State
			switch {
			case startProxy:
				if _, err := sess.StartCorsProxy(ctx); err != nil {
					return err
				}
				state = sess.CheckAllConnectivity(ctx)
			case retry:
				state = sess.RetryConnections(ctx)
			default:
				state = sess.CheckAllConnectivity(ctx)
			}

			out := cmd.OutOrStdout()
			if strings.EqualFold(output, "json") {
				return writeProbeJSON(out, state, sess.Transport())
			}
			return writeProbeTable(out, state, sess.Transport())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table|json")
	cmd.Flags().BoolVar(&retry, "retry", false, "reset the failure counter before probing")
	cmd.Flags().BoolVar(&startProxy, "start-proxy", false, "ask the backend to start the relay if it is down")
	return cmd
}

func writeProbeJSON(w io.Writer, state monitor.State, snap transport.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Transport    transport.Snapshot `json:"transport"`
		Connectivity monitor.State      `json:"connectivity"`
	}{snap, state})
}

func writeProbeTable(w io.Writer, state monitor.State, snap transport.Snapshot) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Probe", "Status", "Latency", "Error"})
	table.Configure(func(cfg *tablewriter.Config) {
		cfg.Row.Alignment.Global = tw.AlignLeft
	})

	rows := make([][]string, 0, len(monitor.Probes))
	for _, p := range monitor.Probes {
		r := state.Get(p)
		latency := "-"
		if !r.LastChecked.IsZero() {
			latency = r.Latency.Round(time.Millisecond).String()
		}
		rows = append(rows, []string{string(p), string(r.Status), latency, r.Error})
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	if err := table.Render(); err != nil {
		return err
	}

	proxy := snap.ProxyURL
	if proxy == "" {
		proxy = "(none)"
	}
	_, err := fmt.Fprintf(w, "mode=%s failures=%d/%d auto_switch=%t proxy=%s\n",
		snap.Mode, snap.Failures, snap.MaxFailures, snap.AutoSwitch, proxy)
	return err
}
