package solana

import (
	"errors"
	"fmt"
	"os"

	solanago "github.com/gagliardetto/solana-go"
)

// ErrNoWallet is returned when neither a private key nor a keypair file is configured
var ErrNoWallet = errors.New("no settlement wallet configured")

// LoadWallet loads the settlement wallet. A base58 private key takes
// precedence over the keypair file.
func LoadWallet(keypairPath, privateKey string) (solanago.PrivateKey, error) {
	if privateKey != "" {
		key, err := solanago.PrivateKeyFromBase58(privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse wallet private key: %w", err)
		}
		return key, nil
	}

	if keypairPath == "" {
		return nil, ErrNoWallet
	}

	if _, err := os.Stat(keypairPath); err != nil {
		return nil, fmt.Errorf("failed to open wallet keypair %s: %w", keypairPath, err)
	}

	key, err := solanago.PrivateKeyFromSolanaKeygenFile(keypairPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet keypair %s: %w", keypairPath, err)
	}
	return key, nil
}
