package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"parley/internal/sshserve"
)

var sshKeysFileFlag string

var sshKeysCmd = &cobra.Command{
	Use:   "ssh-keys",
	Short: "Manage authorized keys for the SSH server",
	Long: `Manage the authorized_keys file consulted by "parley ssh-server".
When the file is empty or missing the server accepts any public key.`,
}

var sshKeysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List authorized keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := authorizedKeysPath()
		if err != nil {
			return err
		}
		entries, err := sshserve.ListAuthorizedKeys(path)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Printf("No authorized keys in %s (server accepts any key)\n", path)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "FINGERPRINT\tTYPE\tCOMMENT")
		for _, e := range entries {
			comment := e.Comment
			if comment == "" {
				comment = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", e.Fingerprint, e.PublicKey.Type(), comment)
		}
		w.Flush()
		fmt.Printf("\n%d key(s) in %s\n", len(entries), path)
		return nil
	},
}

var sshKeysAddCmd = &cobra.Command{
	Use:   "add <public-key>",
	Short: "Add an authorized key",
	Long: `Add a public key in OpenSSH format. Quote the key or paste it as-is;
all arguments are joined into one line.

Example:
  parley ssh-keys add "ssh-ed25519 AAAAC3N... laptop"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := authorizedKeysPath()
		if err != nil {
			return err
		}
		keyData := strings.Join(args, " ")
		if err := sshserve.AddAuthorizedKey(path, keyData); err != nil {
			return err
		}
		fmt.Printf("Key added to %s\n", path)
		return nil
	},
}

var sshKeysRemoveCmd = &cobra.Command{
	Use:   "remove <fingerprint>",
	Short: "Remove an authorized key by fingerprint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := authorizedKeysPath()
		if err != nil {
			return err
		}
		if err := sshserve.RemoveAuthorizedKey(path, args[0]); err != nil {
			return err
		}
		fmt.Printf("Key %s removed from %s\n", args[0], path)
		return nil
	},
}

var sshKeysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the authorized_keys file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadEnvironment()
		if err != nil {
			return err
		}
		path := sshKeysFileFlag
		if path == "" {
			path = cfg.SSH.AuthorizedKeysPath
		}
		return sshserve.InitKeys(cfg.SSH.HostKeyPath, path)
	},
}

func init() {
	sshKeysCmd.PersistentFlags().StringVar(&sshKeysFileFlag, "keys-file", "", "authorized keys path (default <data-dir>/ssh/authorized_keys)")
	sshKeysCmd.AddCommand(sshKeysListCmd)
	sshKeysCmd.AddCommand(sshKeysAddCmd)
	sshKeysCmd.AddCommand(sshKeysRemoveCmd)
	sshKeysCmd.AddCommand(sshKeysInitCmd)
}

// authorizedKeysPath resolves the keys file from the flag, the config,
// or the data directory default, in that order.
func authorizedKeysPath() (string, error) {
	if sshKeysFileFlag != "" {
		return sshKeysFileFlag, nil
	}
	dd, cfg, err := loadEnvironment()
	if err != nil {
		return "", err
	}
	if cfg.SSH.AuthorizedKeysPath != "" {
		return cfg.SSH.AuthorizedKeysPath, nil
	}
	return dd.SSHFilePath("authorized_keys"), nil
}
