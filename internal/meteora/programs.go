package meteora

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	// DBCProgramID is the Meteora Dynamic Bonding Curve program
	DBCProgramID = solana.MustPublicKeyFromBase58("dbcij3LWUppWqq96dh6gJWwBifmcGfLSB5D4DuSMaqN")
	// DAMMV2ProgramID is the Meteora DAMM v2 (cp-amm) program
	DAMMV2ProgramID = solana.MustPublicKeyFromBase58("cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG")

	// NativeSOLMint is the legacy marker some pools use for native SOL
	NativeSOLMint = solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
)

// FeeConfig is a DAMM v2 config that graduating DBC pools migrate into
type FeeConfig struct {
	Name    string
	Address solana.PublicKey
}

// MigrationFeeConfigs lists the DAMM v2 migration configs in derivation order
var MigrationFeeConfigs = []FeeConfig{
	{Name: "FixedBps25", Address: solana.MustPublicKeyFromBase58("7F6dnUcRuyM2TwR8myT1dYypFXpPSxqwKNSFNkxyNESd")},
	{Name: "FixedBps30", Address: solana.MustPublicKeyFromBase58("2nHK1kju6XjphBLbNxpM5XRGFj7p9U8vvNzyZiha1z6k")},
	{Name: "FixedBps100", Address: solana.MustPublicKeyFromBase58("Hv8Lmzmnju6m7kcokVKvwqz7QPmdX9XfKjJsXz8RXcjp")},
	{Name: "FixedBps200", Address: solana.MustPublicKeyFromBase58("2c4cYd4reUYVRAB9kUUkrq55VPyy2FNQ3FDL4o12JXmq")},
	{Name: "FixedBps400", Address: solana.MustPublicKeyFromBase58("AkmQWebAwFvWk55wBoCr5D62C6VVDTzi84NJuD9H7cFD")},
	{Name: "FixedBps600", Address: solana.MustPublicKeyFromBase58("DbCRBj8McvPYHJG1ukj8RE15h2dCNUdTAESG49XpQ44u")},
	{Name: "Customizable", Address: solana.MustPublicKeyFromBase58("A8gMrEPJkacWkcb3DGwtJwTe16HktSEfvwtuDh2MCtck")},
}

// IsSOL reports whether mint is wrapped SOL or the native marker
func IsSOL(mint solana.PublicKey) bool {
	return mint.Equals(solana.SolMint) || mint.Equals(NativeSOLMint)
}

// sortedPair returns the two keys larger first, the order both programs seed pools with
func sortedPair(a, b solana.PublicKey) (solana.PublicKey, solana.PublicKey) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return a, b
	}
	return b, a
}

// DerivePoolAddress derives the DAMM v2 pool for a config and mint pair
func DerivePoolAddress(config, mintA, mintB solana.PublicKey) (solana.PublicKey, error) {
	first, second := sortedPair(mintA, mintB)
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool"), config[:], first[:], second[:]},
		DAMMV2ProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive pool address: %w", err)
	}
	return addr, nil
}

// DeriveVirtualPoolAddress derives the DBC pool for a config, base mint and quote mint
func DeriveVirtualPoolAddress(config, baseMint, quoteMint solana.PublicKey) (solana.PublicKey, error) {
	first, second := sortedPair(baseMint, quoteMint)
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool"), config[:], first[:], second[:]},
		DBCProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive virtual pool address: %w", err)
	}
	return addr, nil
}

// DerivePositionAddress derives the position account for a position NFT
func DerivePositionAddress(nftMint solana.PublicKey) (solana.PublicKey, error) {
	return findDAMM([]byte("position"), nftMint[:])
}

// DerivePositionNftAccount derives the token account holding a position NFT
func DerivePositionNftAccount(nftMint solana.PublicKey) (solana.PublicKey, error) {
	return findDAMM([]byte("position_nft_account"), nftMint[:])
}

// PoolAuthority is the DAMM v2 vault authority
func PoolAuthority() (solana.PublicKey, error) {
	return findDAMM([]byte("pool_authority"))
}

// EventAuthority is the DAMM v2 anchor event authority
func EventAuthority() (solana.PublicKey, error) {
	return findDAMM([]byte("__event_authority"))
}

func findDAMM(seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, DAMMV2ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive DAMM v2 address: %w", err)
	}
	return addr, nil
}

// AssociatedTokenAddress derives the associated token account for any token program
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}
