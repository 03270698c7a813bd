package meteora

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// RemoveLiquidityParams describes a DAMM v2 withdrawal from one position
type RemoveLiquidityParams struct {
	Pool           *Pool
	Position       solana.PublicKey
	NftMint        solana.PublicKey
	Owner          solana.PublicKey
	TokenAAccount  solana.PublicKey
	TokenBAccount  solana.PublicKey
	LiquidityDelta *big.Int
	TokenAMinimum  uint64
	TokenBMinimum  uint64
}

// NewRemoveLiquidityInstruction builds a DAMM v2 remove_liquidity instruction
func NewRemoveLiquidityInstruction(p RemoveLiquidityParams) (solana.Instruction, error) {
	authority, err := PoolAuthority()
	if err != nil {
		return nil, err
	}
	eventAuthority, err := EventAuthority()
	if err != nil {
		return nil, err
	}
	nftAccount, err := DerivePositionNftAccount(p.NftMint)
	if err != nil {
		return nil, err
	}

	data, err := encodeInstruction(removeLiquidityDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint128(uint128FromBig(p.LiquidityDelta), binary.LittleEndian); err != nil {
			return err
		}
		if err := enc.WriteUint64(p.TokenAMinimum, binary.LittleEndian); err != nil {
			return err
		}
		return enc.WriteUint64(p.TokenBMinimum, binary.LittleEndian)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode remove_liquidity: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(authority),
		solana.Meta(p.Pool.Address).WRITE(),
		solana.Meta(p.Position).WRITE(),
		solana.Meta(p.TokenAAccount).WRITE(),
		solana.Meta(p.TokenBAccount).WRITE(),
		solana.Meta(p.Pool.TokenAVault).WRITE(),
		solana.Meta(p.Pool.TokenBVault).WRITE(),
		solana.Meta(p.Pool.TokenAMint),
		solana.Meta(p.Pool.TokenBMint),
		solana.Meta(nftAccount),
		solana.Meta(p.Owner).SIGNER(),
		solana.Meta(p.Pool.TokenAProgram()),
		solana.Meta(p.Pool.TokenBProgram()),
		solana.Meta(eventAuthority),
		solana.Meta(DAMMV2ProgramID),
	}

	return solana.NewInstruction(DAMMV2ProgramID, accounts, data), nil
}

// SwapParams describes a DAMM v2 exact-in swap
type SwapParams struct {
	Pool             *Pool
	Payer            solana.PublicKey
	InputAccount     solana.PublicKey
	OutputAccount    solana.PublicKey
	AmountIn         uint64
	MinimumAmountOut uint64
}

// NewSwapInstruction builds a DAMM v2 swap instruction without a referral account
func NewSwapInstruction(p SwapParams) (solana.Instruction, error) {
	authority, err := PoolAuthority()
	if err != nil {
		return nil, err
	}
	eventAuthority, err := EventAuthority()
	if err != nil {
		return nil, err
	}

	data, err := encodeInstruction(swapDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint64(p.AmountIn, binary.LittleEndian); err != nil {
			return err
		}
		return enc.WriteUint64(p.MinimumAmountOut, binary.LittleEndian)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(authority),
		solana.Meta(p.Pool.Address).WRITE(),
		solana.Meta(p.InputAccount).WRITE(),
		solana.Meta(p.OutputAccount).WRITE(),
		solana.Meta(p.Pool.TokenAVault).WRITE(),
		solana.Meta(p.Pool.TokenBVault).WRITE(),
		solana.Meta(p.Pool.TokenAMint),
		solana.Meta(p.Pool.TokenBMint),
		solana.Meta(p.Payer).SIGNER(),
		solana.Meta(p.Pool.TokenAProgram()),
		solana.Meta(p.Pool.TokenBProgram()),
		solana.Meta(DAMMV2ProgramID), // no referral
		solana.Meta(eventAuthority),
		solana.Meta(DAMMV2ProgramID),
	}

	return solana.NewInstruction(DAMMV2ProgramID, accounts, data), nil
}

// NewCreateATAIdempotentInstruction creates owner's associated token account
// for mint if it does not exist yet
func NewCreateATAIdempotentInstruction(payer, owner, mint, tokenProgram solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, err := AssociatedTokenAddress(owner, mint, tokenProgram)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(tokenProgram),
	}

	// 1 = CreateIdempotent
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{1}), ata, nil
}

func encodeInstruction(disc [8]byte, writeArgs func(enc *bin.Encoder) error) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, err
	}
	if err := writeArgs(enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
