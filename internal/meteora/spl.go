package meteora

import (
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// SOLDecimals is the precision of wrapped SOL
const SOLDecimals uint8 = 9

// DecodeMint decodes an SPL or Token-2022 mint, ignoring extensions
func DecodeMint(address solana.PublicKey, data []byte) (*token.Mint, error) {
	var mint token.Mint
	if err := mint.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode mint %s: %w", address, err)
	}
	if !mint.IsInitialized {
		return nil, fmt.Errorf("mint %s is not initialized", address)
	}
	return &mint, nil
}

// DecodeTokenAccount decodes an SPL or Token-2022 token account, ignoring extensions
func DecodeTokenAccount(address solana.PublicKey, data []byte) (*token.Account, error) {
	var account token.Account
	if err := account.UnmarshalWithDecoder(bin.NewBinDecoder(data)); err != nil {
		return nil, fmt.Errorf("failed to decode token account %s: %w", address, err)
	}
	return &account, nil
}
