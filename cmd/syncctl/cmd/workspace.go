package cmd

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gitsync/gitsync/internal/api"
)

var documentsJSONOutput bool

var metaCmd = &cobra.Command{
	Use:   "meta",
	Short: "Show cached workspace metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Get("/api/v1/workspaces/" + url.PathEscape(ws) + "/meta")
		if err != nil {
			return fmt.Errorf("failed to get workspace meta: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List documents materialized for a workspace",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Get("/api/v1/workspaces/" + url.PathEscape(ws) + "/documents")
		if err != nil {
			return fmt.Errorf("failed to list documents: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}

		if documentsJSONOutput {
			return PrintJSON(resp)
		}

		var envelope struct {
			Data []api.Document `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tNAME\tPATH")
		for _, d := range envelope.Data {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.ID, d.Kind, d.Name, d.Path)
		}
		return w.Flush()
	},
}

func init() {
	documentsCmd.Flags().BoolVar(&documentsJSONOutput, "json", false, "Print raw JSON instead of a table")

	rootCmd.AddCommand(metaCmd)
	rootCmd.AddCommand(documentsCmd)
}
