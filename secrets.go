package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/crypto"
	"github.com/gluk-w/claworc/shellbridge/internal/sshkeys"
	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [value]",
	Short: "Encrypt a secret for the profiles file",
	Long: `Encrypt a password or passphrase with $` + config.EnvPrefix + `_SECRET_KEY and print the
"fernet:" value to paste into the profiles file. Without an argument the
value is read from the first line of stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		value := ""
		if len(args) == 1 {
			value = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read value: %w", err)
			}
			value = strings.TrimRight(line, "\r\n")
		}
		if value == "" {
			return fmt.Errorf("empty value")
		}
		token, err := crypto.Encrypt(value)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a secret key or an SSH key pair",
	Long: `Without flags, print a new key for $` + config.EnvPrefix + `_SECRET_KEY.
With --ssh DIR, write a new ed25519 key pair to DIR and print the public key
line to add to the remote authorized_keys.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

var (
	keygenSSHDir  string
	keygenSSHName string
)

func init() {
	keygenCmd.Flags().StringVar(&keygenSSHDir, "ssh", "", "Directory to write an SSH key pair to")
	keygenCmd.Flags().StringVar(&keygenSSHName, "name", "id_ed25519", "File name of the private key")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if keygenSSHDir == "" {
		key, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, key)
		return nil
	}

	pub, priv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		return err
	}
	path, err := sshkeys.SaveKeyPair(keygenSSHDir, keygenSSHName, priv, pub)
	if err != nil {
		return err
	}
	fingerprint, err := sshkeys.GetPublicKeyFingerprint(pub)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Private key: %s\nFingerprint: %s\n", path, fingerprint)
	fmt.Fprint(out, string(pub))
	return nil
}
