package solana

import (
	"context"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Reader is the subset of the Solana JSON-RPC API used to read chain state.
// *rpc.Client satisfies it, as does the endpoint pool in internal/rpc.
type Reader interface {
	GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solanago.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solanago.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solanago.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Writer is the subset of the Solana JSON-RPC API used to land transactions
type Writer interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTransaction(ctx context.Context, signature solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Client reads and writes chain state
type Client interface {
	Reader
	Writer
}

var _ Client = (*rpc.Client)(nil)

// AccountData returns the raw data of an account. A missing account yields
// rpc.ErrNotFound.
func AccountData(ctx context.Context, client Reader, account solanago.PublicKey) ([]byte, error) {
	res, err := client.GetAccountInfo(ctx, account)
	if err != nil {
		return nil, err
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return nil, rpc.ErrNotFound
	}
	return res.Value.Data.GetBinary(), nil
}

// Health reports the node health and the wallet balance in lamports
func Health(ctx context.Context, client Reader, wallet solanago.PublicKey) (string, uint64, error) {
	status, err := client.GetHealth(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get node health: %w", err)
	}

	balance, err := client.GetBalance(ctx, wallet, rpc.CommitmentConfirmed)
	if err != nil {
		return status, 0, fmt.Errorf("failed to get wallet balance: %w", err)
	}

	return status, balance.Value, nil
}
