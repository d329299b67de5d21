package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	daemonURL   string
	workspaceID string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Command line interface for the gitsync daemon",
	Long:  `CLI for driving Git-backed workspace synchronization (branches, commits, push/pull/merge).`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&daemonURL, "url", "http://localhost:8080", "Sync daemon URL")
	rootCmd.PersistentFlags().StringVarP(&workspaceID, "workspace", "w", "", "Workspace ID")

	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
}

// initConfig reads in ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("GITSYNC")
	viper.AutomaticEnv() // read in environment variables that match
}

// requireWorkspace fails fast when a command needs -w and it is missing.
func requireWorkspace() (string, error) {
	ws := viper.GetString("workspace")
	if ws == "" {
		return "", fmt.Errorf("workspace is required: pass -w or set GITSYNC_WORKSPACE")
	}
	return ws, nil
}
