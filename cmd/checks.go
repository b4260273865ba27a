package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/album-publisher/internal/app"
)

func newCheckSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-setup",
		Short: "Verify credentials, the job sheet, and the asset folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			report := svc.CheckSetup(cmd.Context())
			out := cmd.OutOrStdout()
			writeSetupReport(out, report, shouldColorize(out))
			if !report.OK() {
				return errReported
			}
			return nil
		},
	}
}

func writeSetupReport(w io.Writer, report app.SetupReport, colorize bool) {
	rows := make([][]string, 0, len(report.Checks))
	for _, c := range report.Checks {
		rows = append(rows, []string{c.Name, statusCell(c.OK, colorize), c.Detail})
	}
	fmt.Fprintln(w, renderTable([]string{"Check", "Status", "Detail"}, rows))

	if len(report.Tabs) > 0 {
		fmt.Fprintln(w, renderList("Tabs", report.Tabs))
	}
	if len(report.Header) > 0 {
		fmt.Fprintln(w, renderList("Header", report.Header))
	}
	if len(report.Files) > 0 {
		fmt.Fprintln(w, renderList("Files", report.Files))
	}
}

func newCheckProxyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-proxy",
		Short: "Compare the public address with and without the proxy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := servicesFrom(cmd)
			if err != nil {
				return err
			}
			report, err := svc.CheckProxy(cmd.Context())
			if err != nil {
				return fmt.Errorf("check proxy: %w", err)
			}
			out := cmd.OutOrStdout()
			writeProxyReport(out, report, shouldColorize(out))
			if !report.Working() {
				return errReported
			}
			return nil
		},
	}
}

func writeProxyReport(w io.Writer, report app.ProxyReport, colorize bool) {
	rows := [][]string{
		{"proxy", report.Proxy},
		{"direct", report.Direct},
		{"proxied", report.Proxied},
		{"working", statusCell(report.Working(), colorize)},
	}
	fmt.Fprintln(w, renderTable([]string{"", "Value"}, rows))
}
