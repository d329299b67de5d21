package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	checkoutRemote   bool
	pushForce        bool
	fetchAllBranches bool
	fetchDepth       int
	commitMessage    string
)

// postOp is the common shape of the mutating repo commands: POST a body to
// /api/v1/repos/<ws>/<op> and print the envelope.
func postOp(op string, body interface{}) error {
	ws, err := requireWorkspace()
	if err != nil {
		return err
	}

	client := NewAPIClient()
	resp, err := client.Post("/api/v1/repos/"+url.PathEscape(ws)+"/"+op, body)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		return err
	}
	return PrintJSON(resp)
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <branch>",
	Short: "Check out a branch and reload workspace documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp("checkout", map[string]interface{}{
			"branch": args[0],
			"remote": checkoutRemote,
		})
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge a branch into the current branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp("merge", map[string]interface{}{
			"branch": args[0],
		})
	},
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push the current branch to the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp("push", map[string]interface{}{
			"force": pushForce,
		})
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the current branch from the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp("pull", nil)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch refs from the remote",
	RunE: func(cmd *cobra.Command, args []string) error {
		return postOp("fetch", map[string]interface{}{
			"all_branches": fetchAllBranches,
			"depth":        fetchDepth,
		})
	},
}

var commitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Stage everything and commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if commitMessage == "" {
			return fmt.Errorf("--message is required")
		}
		return postOp("commit", map[string]interface{}{
			"message": commitMessage,
		})
	},
}

var deleteBranchCmd = &cobra.Command{
	Use:   "delete-branch <branch>",
	Short: "Delete a local branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireWorkspace()
		if err != nil {
			return err
		}

		client := NewAPIClient()
		resp, err := client.Delete("/api/v1/repos/" + url.PathEscape(ws) + "/branches/" + url.PathEscape(args[0]))
		if err != nil {
			return fmt.Errorf("failed to delete branch: %w", err)
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			return err
		}
		return PrintJSON(resp)
	},
}

func init() {
	checkoutCmd.Flags().BoolVar(&checkoutRemote, "remote", false, "Fetch from the remote before checking out")
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "Force push, overwriting remote history")
	fetchCmd.Flags().BoolVar(&fetchAllBranches, "all", true, "Fetch all branches")
	fetchCmd.Flags().IntVar(&fetchDepth, "depth", 1, "Fetch depth (0 for full history)")
	commitCmd.Flags().StringVarP(&commitMessage, "message", "m", "", "Commit message")

	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(deleteBranchCmd)
}
