package meteora

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrAccountTooShort is returned when account data is smaller than its layout
	ErrAccountTooShort = errors.New("account data too short")
	// ErrWrongDiscriminator is returned when account data belongs to another type
	ErrWrongDiscriminator = errors.New("account discriminator mismatch")
)

// Anchor discriminators
var (
	PoolDiscriminator        = accountDiscriminator("Pool")
	PositionDiscriminator    = accountDiscriminator("Position")
	VirtualPoolDiscriminator = accountDiscriminator("VirtualPool")
	PoolConfigDiscriminator  = accountDiscriminator("PoolConfig")

	removeLiquidityDiscriminator = instructionDiscriminator("remove_liquidity")
	swapDiscriminator            = instructionDiscriminator("swap")
)

func accountDiscriminator(name string) [8]byte {
	return discriminator("account:" + name)
}

func instructionDiscriminator(name string) [8]byte {
	return discriminator("global:" + name)
}

func discriminator(preimage string) [8]byte {
	sum := sha256.Sum256([]byte(preimage))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func checkAccount(data []byte, want [8]byte, minSize int, kind string) error {
	if len(data) < minSize {
		return fmt.Errorf("%s: %w (%d < %d)", kind, ErrAccountTooShort, len(data), minSize)
	}
	if !bytes.Equal(data[:8], want[:]) {
		return fmt.Errorf("%s: %w", kind, ErrWrongDiscriminator)
	}
	return nil
}

// accountReader reads fixed-offset fields and keeps the first error
type accountReader struct {
	dec *bin.Decoder
	err error
}

func newAccountReader(data []byte) *accountReader {
	return &accountReader{dec: bin.NewBorshDecoder(data)}
}

func (r *accountReader) seek(offset uint) bool {
	if r.err != nil {
		return false
	}
	if err := r.dec.SetPosition(offset); err != nil {
		r.err = err
		return false
	}
	return true
}

func (r *accountReader) pubkey(offset uint) solana.PublicKey {
	if !r.seek(offset) {
		return solana.PublicKey{}
	}
	b, err := r.dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		r.err = err
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

func (r *accountReader) u8(offset uint) uint8 {
	if !r.seek(offset) {
		return 0
	}
	v, err := r.dec.ReadUint8()
	if err != nil {
		r.err = err
	}
	return v
}

func (r *accountReader) u64(offset uint) uint64 {
	if !r.seek(offset) {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *accountReader) u128(offset uint) *big.Int {
	if !r.seek(offset) {
		return new(big.Int)
	}
	v, err := r.dec.ReadUint128(binary.LittleEndian)
	if err != nil {
		r.err = err
		return new(big.Int)
	}
	return v.BigInt()
}

// uint128FromBig converts v to the wire representation, truncating above 128 bits
func uint128FromBig(v *big.Int) bin.Uint128 {
	if v == nil || v.Sign() <= 0 {
		return bin.Uint128{}
	}
	mask := new(big.Int).SetUint64(^uint64(0))
	lo := new(big.Int).And(v, mask).Uint64()
	hi := new(big.Int).And(new(big.Int).Rsh(v, 64), mask).Uint64()
	return bin.Uint128{Lo: lo, Hi: hi}
}
