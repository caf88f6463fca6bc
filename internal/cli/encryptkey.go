package cli

import (
	"fmt"
	"os"

	"github.com/exposurekeys/keyserver/internal/common/keycrypt"
	"github.com/exposurekeys/keyserver/internal/keyserver/config"
	"github.com/exposurekeys/keyserver/internal/keyserver/signing"
	"github.com/spf13/cobra"
)

func newEncryptKeyCmd() *cobra.Command {
	var in, out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Seal a signing key with the passphrase from " + config.EnvKeyPassphrase,
		Long: `Seal a PEM encoded ed25519 signing key so it can be stored on disk. The server opens
sealed keys with the passphrase in ` + config.EnvKeyPassphrase + `.

Examples:
  KEYSERVER_KEY_PASSPHRASE=... keyserver encrypt-key --in export.pem --out export.sealed.pem`,
		Annotations: map[string]string{annotationNoConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv(config.EnvKeyPassphrase)
			if passphrase == "" {
				return fmt.Errorf("%s is not set", config.EnvKeyPassphrase)
			}
			return sealKeyFile(in, out, passphrase)
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "PEM encoded private key")
	cmd.Flags().StringVar(&out, "out", "", "Destination of the sealed key")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")
	return cmd
}

func sealKeyFile(in, out, passphrase string) error {
	keyPEM, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("reading key: %w", err)
	}
	if _, err := signing.ParsePrivateKey(keyPEM); err != nil {
		return err
	}
	sealed, err := keycrypt.SealPEM(keyPEM, passphrase)
	if err != nil {
		return err
	}
	return os.WriteFile(out, sealed, 0o600)
}
