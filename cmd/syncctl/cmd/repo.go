package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	configureRemoteURL   string
	configureAuthMethod  string
	configureSecret      string
	configureBranch      string
	configureAuthorName  string
	configureAuthorEmail string
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage repository bindings",
}

var repoConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Bind a workspace to a git remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}
		if configureRemoteURL == "" {
			return fmt.Errorf("--remote-url is required")
		}

		client := NewAPIClient()
		resp, err := client.Post("/api/v1/repos", map[string]interface{}{
			"workspace_id": ws,
			"remote_url":   configureRemoteURL,
			"auth_method":  configureAuthMethod,
			"secret":       configureSecret,
			"branch":       configureBranch,
			"author_name":  configureAuthorName,
			"author_email": configureAuthorEmail,
		})
		if err != nil {
			return fmt.Errorf("failed to configure repository: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a workspace's repository binding",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Delete("/api/v1/repos/" + url.PathEscape(ws))
		if err != nil {
			return fmt.Errorf("failed to remove repository: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

func init() {
	repoConfigureCmd.Flags().StringVar(&configureRemoteURL, "remote-url", "", "Git remote URL (HTTPS or SSH)")
	repoConfigureCmd.Flags().StringVar(&configureAuthMethod, "auth", "public", "Auth method: public, token or deploy_key")
	repoConfigureCmd.Flags().StringVar(&configureSecret, "secret", "", "Access token or PEM-encoded deploy key")
	repoConfigureCmd.Flags().StringVar(&configureBranch, "branch", "", "Default branch (defaults to main)")
	repoConfigureCmd.Flags().StringVar(&configureAuthorName, "author-name", "", "Commit author name")
	repoConfigureCmd.Flags().StringVar(&configureAuthorEmail, "author-email", "", "Commit author email")

	repoCmd.AddCommand(repoConfigureCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	rootCmd.AddCommand(repoCmd)
}
