package solana

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenBalance(index uint16, owner *solanago.PublicKey, mint solanago.PublicKey, amount string) rpc.TokenBalance {
	return rpc.TokenBalance{
		AccountIndex:  index,
		Owner:         owner,
		Mint:          mint,
		UiTokenAmount: &rpc.UiTokenAmount{Amount: amount},
	}
}

func TestTokenBalanceChange(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	other := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()

	tests := []struct {
		name    string
		meta    *rpc.TransactionMeta
		want    int64
		wantErr error
	}{
		{
			name: "received into existing account",
			meta: &rpc.TransactionMeta{
				PreTokenBalances:  []rpc.TokenBalance{tokenBalance(1, &owner, mint, "10")},
				PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, &owner, mint, "60")},
			},
			want: 50,
		},
		{
			name: "account created in the transaction",
			meta: &rpc.TransactionMeta{
				PostTokenBalances: []rpc.TokenBalance{tokenBalance(2, &owner, mint, "75")},
			},
			want: 75,
		},
		{
			name: "spent",
			meta: &rpc.TransactionMeta{
				PreTokenBalances:  []rpc.TokenBalance{tokenBalance(1, &owner, mint, "75")},
				PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, &owner, mint, "0")},
			},
			want: -75,
		},
		{
			name: "other owners and mints ignored",
			meta: &rpc.TransactionMeta{
				PreTokenBalances: []rpc.TokenBalance{
					tokenBalance(1, &owner, mint, "5"),
					tokenBalance(2, &other, mint, "1000"),
				},
				PostTokenBalances: []rpc.TokenBalance{
					tokenBalance(1, &owner, mint, "8"),
					tokenBalance(2, &other, mint, "0"),
					tokenBalance(3, &owner, solanago.SolMint, "999"),
					tokenBalance(4, nil, mint, "999"),
				},
			},
			want: 3,
		},
		{
			name:    "owner absent",
			meta:    &rpc.TransactionMeta{PostTokenBalances: []rpc.TokenBalance{tokenBalance(2, &other, mint, "1")}},
			wantErr: ErrBalanceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TokenBalanceChange(tt.meta, owner, mint)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, big.NewInt(tt.want), got)
		})
	}
}

func TestTokenBalanceChangeInvalidAmount(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	mint := solanago.NewWallet().PublicKey()
	meta := &rpc.TransactionMeta{PostTokenBalances: []rpc.TokenBalance{tokenBalance(1, &owner, mint, "1.5")}}

	_, err := TokenBalanceChange(meta, owner, mint)
	assert.Error(t, err)
}

func TestReceivedAmount(t *testing.T) {
	assert.Equal(t, uint64(0), ReceivedAmount(nil))
	assert.Equal(t, uint64(0), ReceivedAmount(big.NewInt(-5)))
	assert.Equal(t, uint64(42), ReceivedAmount(big.NewInt(42)))
	assert.Equal(t, uint64(0), ReceivedAmount(new(big.Int).Lsh(big.NewInt(1), 64)))
}

func TestLoadWallet(t *testing.T) {
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)

	t.Run("base58 private key", func(t *testing.T) {
		got, err := LoadWallet("does-not-exist.json", key.String())
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), got.PublicKey())
	})

	t.Run("keypair file", func(t *testing.T) {
		raw := make([]int, len(key))
		for i, b := range key {
			raw[i] = int(b)
		}
		content, err := json.Marshal(raw)
		require.NoError(t, err)

		path := filepath.Join(t.TempDir(), "id.json")
		require.NoError(t, os.WriteFile(path, content, 0o600))

		got, err := LoadWallet(path, "")
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey(), got.PublicKey())
	})

	t.Run("missing keypair file", func(t *testing.T) {
		_, err := LoadWallet(filepath.Join(t.TempDir(), "missing.json"), "")
		assert.Error(t, err)
	})

	t.Run("nothing configured", func(t *testing.T) {
		_, err := LoadWallet("", "")
		assert.ErrorIs(t, err, ErrNoWallet)
	})

	t.Run("invalid private key", func(t *testing.T) {
		_, err := LoadWallet("", "not-base58-0OIl")
		assert.Error(t, err)
	})
}
