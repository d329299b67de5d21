package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitsync/gitsync/internal/api"
)

var logJSONOutput bool

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show commit history for a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Get("/api/v1/repos/" + url.PathEscape(ws) + "/log")
		if err != nil {
			return fmt.Errorf("failed to get log: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}

		if logJSONOutput {
			return PrintJSON(resp)
		}

		var envelope struct {
			Data []api.CommitInfo `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HASH\tAUTHOR\tDATE\tMESSAGE")
		for _, c := range envelope.Data {
			hash := c.Hash
			if len(hash) > 8 {
				hash = hash[:8]
			}
			when := time.UnixMilli(c.AuthoredAt).Format(time.RFC3339)
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", hash, c.Author, when, c.Message)
		}
		return w.Flush()
	},
}

func init() {
	logCmd.Flags().BoolVar(&logJSONOutput, "json", false, "Print raw JSON instead of a table")
	rootCmd.AddCommand(logCmd)
}
