package solana

import (
	"errors"
	"fmt"
	"math/big"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrBalanceUnavailable is returned when a transaction carries no token balance for the owner and mint
var ErrBalanceUnavailable = errors.New("token balance unavailable")

// TokenBalanceChange returns the net change of owner's balance of mint across
// all of owner's token accounts touched by the transaction. A negative result
// means the owner spent tokens.
func TokenBalanceChange(meta *rpc.TransactionMeta, owner, mint solanago.PublicKey) (*big.Int, error) {
	pre, preFound, err := sumTokenBalances(meta.PreTokenBalances, owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pre token balances: %w", err)
	}
	post, postFound, err := sumTokenBalances(meta.PostTokenBalances, owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse post token balances: %w", err)
	}
	if !preFound && !postFound {
		return nil, ErrBalanceUnavailable
	}
	return post.Sub(post, pre), nil
}

// ReceivedAmount returns a positive balance change as u64 and zero otherwise
func ReceivedAmount(delta *big.Int) uint64 {
	if delta == nil || delta.Sign() <= 0 || !delta.IsUint64() {
		return 0
	}
	return delta.Uint64()
}

func sumTokenBalances(balances []rpc.TokenBalance, owner, mint solanago.PublicKey) (*big.Int, bool, error) {
	total := new(big.Int)
	found := false
	for _, balance := range balances {
		if balance.Owner == nil || !balance.Owner.Equals(owner) || !balance.Mint.Equals(mint) {
			continue
		}
		if balance.UiTokenAmount == nil {
			continue
		}
		amount, ok := new(big.Int).SetString(balance.UiTokenAmount.Amount, 10)
		if !ok {
			return nil, false, fmt.Errorf("invalid token amount %q at account index %d", balance.UiTokenAmount.Amount, balance.AccountIndex)
		}
		total.Add(total, amount)
		found = true
	}
	return total, found, nil
}
