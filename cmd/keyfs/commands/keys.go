package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/absfs/keyfs"
	"github.com/absfs/keyfs/config"
	"github.com/absfs/keyfs/control"
)

var (
	keyFlag        string
	passphraseFlag bool
	generateFlag   bool
)

var setKeyCmd = &cobra.Command{
	Use:   "set-key PATH",
	Short: "Register the key for a path in a mounted filesystem",
	Long: `Register the 32-byte key used to encrypt PATH. The path does not need
to exist yet. Exactly one key source must be given.

Examples:
  # Use a key produced by "keyfs genkey"
  keyfs set-key /notes.txt --key "$(keyfs genkey)"

  # Derive the key from the passphrase in $KEYFS_PASSPHRASE
  keyfs set-key /notes.txt --passphrase

  # Generate a fresh key and print it
  keyfs set-key /notes.txt --generate`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendKey(cmd, args[0], (*control.Client).SetKey)
	},
}

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key PATH",
	Short: "Re-encrypt a path under a new key",
	Long: `Decrypt PATH with its current key and re-encrypt it under a new one.
The path must exist and already have a key. Key sources are the same as
for set-key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendKey(cmd, args[0], (*control.Client).RotateKey)
	},
}

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Print a fresh random key in base64",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := generateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{setKeyCmd, rotateKeyCmd} {
		c.Flags().StringVar(&keyFlag, "key", "", "base64-encoded 32-byte key")
		c.Flags().BoolVar(&passphraseFlag, "passphrase", false, "derive the key from the configured passphrase")
		c.Flags().BoolVar(&generateFlag, "generate", false, "generate a random key and print it")
		c.MarkFlagsMutuallyExclusive("key", "passphrase", "generate")
		c.MarkFlagsOneRequired("key", "passphrase", "generate")
	}
}

type keySender func(c *control.Client, ctx context.Context, path string, key []byte) error

func sendKey(cmd *cobra.Command, path string, send keySender) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := keyfs.ValidatePath(path); err != nil {
		return err
	}

	key, err := resolveKey(cfg.Keys, path)
	if err != nil {
		return err
	}
	defer wipe(key)

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	if err := send(control.NewClient(cfg.Control.Socket), ctx, path, key); err != nil {
		return err
	}
	if generateFlag {
		fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key))
	}
	return nil
}

// resolveKey produces the key selected by the command's flags.
func resolveKey(keys config.KeysConfig, path string) ([]byte, error) {
	switch {
	case keyFlag != "":
		key, err := base64.StdEncoding.DecodeString(keyFlag)
		if err != nil {
			return nil, fmt.Errorf("--key is not valid base64: %w", err)
		}
		if err := keyfs.ValidateKey(key); err != nil {
			return nil, err
		}
		return key, nil
	case passphraseFlag:
		provider, err := newKeyProvider(keys)
		if err != nil {
			return nil, err
		}
		return provider.KeyFor(path)
	case generateFlag:
		return generateKey()
	}
	return nil, errors.New("one of --key, --passphrase or --generate is required")
}

func generateKey() ([]byte, error) {
	key := make([]byte, keyfs.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// newKeyProvider builds the deriver configured under keys. The secret is
// read from the environment variable named by keys.passphrase_env; for
// hkdf it must hold a base64 32-byte master key.
func newKeyProvider(keys config.KeysConfig) (keyfs.KeyProvider, error) {
	secret := os.Getenv(keys.PassphraseEnv)
	if secret == "" {
		return nil, fmt.Errorf("environment variable %s is empty", keys.PassphraseEnv)
	}
	salt := []byte(keys.Salt)

	switch keys.KDF {
	case config.KDFArgon2id:
		return keyfs.NewPassphraseKeyProvider([]byte(secret), salt, keyfs.Argon2idParams{}), nil
	case config.KDFPBKDF2:
		return keyfs.NewPassphraseKeyProviderPBKDF2([]byte(secret), salt, keyfs.PBKDF2Params{HashFunc: keyfs.SHA256}), nil
	case config.KDFHKDF:
		master, err := base64.StdEncoding.DecodeString(secret)
		if err != nil {
			return nil, fmt.Errorf("%s is not a base64 master key: %w", keys.PassphraseEnv, err)
		}
		defer wipe(master)
		provider, err := keyfs.NewMasterKeyProvider(master, salt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keys.PassphraseEnv, err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("unsupported kdf %q", keys.KDF)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
