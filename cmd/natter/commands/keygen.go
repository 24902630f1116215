package commands

import (
	"fmt"

	"github.com/natternet/natter/src/crypto/keys"
	"github.com/natternet/natter/src/natter"
	"github.com/spf13/cobra"
)

var keygenDataDir string

// NewKeygenCmd produces a KeygenCmd which creates a new identity key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new identity key",
		RunE:  keygen,
	}

	cmd.Flags().StringVar(&keygenDataDir, "datadir", _config.DataDir, "Directory where the key will be written")

	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	privKey, err := natter.Keygen(keygenDataDir)
	if err != nil {
		return err
	}

	fmt.Printf("Your key has been saved under: %s\n", keygenDataDir)
	fmt.Printf("PublicKey: %s\n", keys.PublicKeyHex(keys.PublicKey(privKey)))

	return nil
}
