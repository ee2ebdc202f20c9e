package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"tubeget/internal/api"
	"tubeget/internal/config"
)

func newStatusCommand(configFlag *string) *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show broker state and staged files",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := addrFlag
			if addr == "" {
				cfg, _, _, err := config.Load(*configFlag)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				addr = cfg.Paths.Bind
			}

			status, err := fetchStatus(addr)
			if err != nil {
				return err
			}
			printStatus(cmd, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "Broker address (host:port), defaults to the configured bind address")
	return cmd
}

func fetchStatus(addr string) (*api.StatusResponse, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return nil, fmt.Errorf("broker not reachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request failed: %s", resp.Status)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

func printStatus(cmd *cobra.Command, status *api.StatusResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Broker running (pid %d)\n", status.PID)
	fmt.Fprintf(out, "Staging directory: %s\n", status.StagingDir)
	fmt.Fprintf(out, "Active jobs: %d\n", status.ActiveJobs)

	if len(status.Staged) == 0 {
		fmt.Fprintln(out, "No staged files.")
		return
	}
	fmt.Fprintln(out, renderStagedTable(status.Staged))
}

func renderStagedTable(staged []api.StagedFileInfo) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"File", "Size", "Staged", "Token"})
	for _, file := range staged {
		tw.AppendRow(table.Row{
			file.Filename,
			humanize.IBytes(uint64(file.SizeBytes)),
			humanize.Time(file.CreatedAt),
			file.Token,
		})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}
