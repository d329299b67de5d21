package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List local and remote branches for a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Get("/api/v1/repos/" + url.PathEscape(ws) + "/branches")
		if err != nil {
			return fmt.Errorf("failed to list branches: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

func init() {
	rootCmd.AddCommand(branchesCmd)
}
