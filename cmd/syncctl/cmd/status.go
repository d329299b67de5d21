package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show repository status for a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Get("/api/v1/repos/" + url.PathEscape(ws) + "/status")
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
