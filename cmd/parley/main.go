// Package main implements the parley command line client: a terminal
// chat client for an AI gateway with transcript archival, semantic
// recall, and an optional SSH-served TUI.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"parley/internal/config"
	"parley/internal/datadir"
	"parley/internal/version"
)

var (
	cfgFile     string
	dataDirFlag string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Terminal chat client for an AI gateway",
	Long: `Parley is a terminal chat client that talks to an AI gateway over
WebSocket. Conversations stream in live, tool activity is shown as it
happens, and every confirmed message is archived locally with full-text
and semantic search.

Running parley with no subcommand opens the chat TUI.

Examples:
  parley                          Open the chat TUI
  parley chat --url ws://host/ws  Chat against a specific gateway
  parley ssh-server               Serve the TUI to SSH clients
  parley history list             List archived chats
  parley search "deploy failure"  Search the archive semantically`,
	Version: version.Info(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return chatCmd.RunE(cmd, args)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <data-dir>/config/config.json)")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default is $PARLEY_DATA_DIR or ~/.parley)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sshServerCmd)
	rootCmd.AddCommand(sshKeysCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(maintenanceCmd)
	rootCmd.AddCommand(versionCmd)
}

// initEnv loads .env files from the data directory before any command
// runs so that ${ENV_VAR} references in the config file resolve.
func initEnv() {
	dd, err := datadir.New(dataDirFlag)
	if err != nil {
		return
	}
	if err := datadir.LoadEnv(dd.Root()); err != nil {
		log.Printf("[CLI] Failed to load env files: %v", err)
	}
	if verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// openDataDir resolves the data directory from --data-dir (or
// PARLEY_DATA_DIR, or ~/.parley) and creates its layout.
func openDataDir(configValue string) (*datadir.DataDir, error) {
	root := dataDirFlag
	if root == "" {
		root = configValue
	}
	dd, err := datadir.New(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}
	if err := dd.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("failed to create data directory layout: %w", err)
	}
	return dd, nil
}

// loadEnvironment resolves the data directory and loads the config file,
// honoring --config and re-rooting the data directory when the config
// names one.
func loadEnvironment() (*datadir.DataDir, *config.Config, error) {
	dd, err := openDataDir("")
	if err != nil {
		return nil, nil, err
	}

	path := cfgFile
	if path == "" {
		path = filepath.Join(dd.ConfigDir(), "config.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if verbose {
		cfg.Debug.VerboseLogging = true
	}

	// A data_dir in the config moves the databases and key material, but
	// the config file itself stays where we found it.
	if dataDirFlag == "" && cfg.DataDir != "" {
		dd, err = openDataDir(cfg.DataDir)
		if err != nil {
			return nil, nil, err
		}
	}
	return dd, cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
	},
}

func main() {
	Execute()
}
