// Package solanatest provides an in-memory chain for tests.
package solanatest

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	chain "github.com/wnt/battled/internal/solana"
)

var _ chain.Client = (*Chain)(nil)

// Chain is an in-memory implementation of the chain read and write interfaces.
// Sent transactions confirm immediately unless OnSend fails them.
type Chain struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey]*rpc.Account
	lamports map[solana.PublicKey]uint64
	metas    map[solana.Signature]*rpc.TransactionMeta
	failed   map[solana.Signature]interface{}
	sent     []*solana.Transaction
	calls    map[string]int

	// Health is returned by GetHealth
	Health string
	// OnSend runs for every sent transaction. A non-nil error rejects the
	// send; a non-nil meta is served by GetTransaction.
	OnSend func(tx *solana.Transaction) (*rpc.TransactionMeta, error)
	// FailOnChain marks a sent transaction as failed with the returned error value
	FailOnChain func(tx *solana.Transaction) interface{}
}

// New creates an empty chain
func New() *Chain {
	return &Chain{
		accounts: make(map[solana.PublicKey]*rpc.Account),
		lamports: make(map[solana.PublicKey]uint64),
		metas:    make(map[solana.Signature]*rpc.TransactionMeta),
		failed:   make(map[solana.Signature]interface{}),
		calls:    make(map[string]int),
		Health:   rpc.HealthOk,
	}
}

// SetAccount stores account data owned by owner
func (c *Chain) SetAccount(address, owner solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = &rpc.Account{
		Lamports: 1,
		Owner:    owner,
		Data:     rpc.DataBytesOrJSONFromBytes(append([]byte(nil), data...)),
	}
}

// RemoveAccount deletes an account
func (c *Chain) RemoveAccount(address solana.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.accounts, address)
}

// SetBalance sets an account's lamports as reported by GetBalance
func (c *Chain) SetBalance(address solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lamports[address] = lamports
}

// Sent returns the transactions sent so far
func (c *Chain) Sent() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*solana.Transaction(nil), c.sent...)
}

// Calls returns how many times a method was called
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) record(method string) {
	c.calls[method]++
}

func (c *Chain) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getAccountInfo")
	acct, ok := c.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (c *Chain) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getMultipleAccounts")
	out := &rpc.GetMultipleAccountsResult{Value: make([]*rpc.Account, len(accounts))}
	for i, address := range accounts {
		out.Value[i] = c.accounts[address]
	}
	return out, nil
}

func (c *Chain) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getProgramAccounts")

	var out rpc.GetProgramAccountsResult
	for _, address := range c.sortedAddresses() {
		acct := c.accounts[address]
		if !acct.Owner.Equals(program) {
			continue
		}
		if opts != nil && !matches(acct.Data.GetBinary(), opts.Filters) {
			continue
		}
		out = append(out, &rpc.KeyedAccount{Pubkey: address, Account: acct})
	}
	return out, nil
}

func (c *Chain) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTokenAccountsByOwner")

	out := &rpc.GetTokenAccountsResult{}
	for _, address := range c.sortedAddresses() {
		acct := c.accounts[address]
		data := acct.Data.GetBinary()
		if !acct.Owner.Equals(solana.TokenProgramID) && !acct.Owner.Equals(solana.Token2022ProgramID) {
			continue
		}
		if len(data) < 165 || !bytes.Equal(data[32:64], owner[:]) {
			continue
		}
		if conf != nil && conf.ProgramId != nil && !acct.Owner.Equals(*conf.ProgramId) {
			continue
		}
		if conf != nil && conf.Mint != nil && !bytes.Equal(data[:32], conf.Mint[:]) {
			continue
		}
		out.Value = append(out.Value, &rpc.TokenAccount{Pubkey: address, Account: *acct})
	}
	return out, nil
}

func (c *Chain) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getBalance")
	return &rpc.GetBalanceResult{Value: c.lamports[account]}, nil
}

func (c *Chain) GetHealth(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getHealth")
	return c.Health, nil
}

func (c *Chain) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getLatestBlockhash")
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{7}, LastValidBlockHeight: 1000},
	}, nil
}

func (c *Chain) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	c.mu.Lock()
	c.record("sendTransaction")
	c.sent = append(c.sent, tx)
	onSend, failOnChain := c.OnSend, c.FailOnChain
	c.mu.Unlock()

	sig := tx.Signatures[0]
	var meta *rpc.TransactionMeta
	if onSend != nil {
		var err error
		if meta, err = onSend(tx); err != nil {
			return solana.Signature{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if meta == nil {
		meta = &rpc.TransactionMeta{}
	}
	c.metas[sig] = meta
	if failOnChain != nil {
		if onChainErr := failOnChain(tx); onChainErr != nil {
			c.failed[sig] = onChainErr
		}
	}
	return sig, nil
}

func (c *Chain) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getSignatureStatuses")

	out := &rpc.GetSignatureStatusesResult{Value: make([]*rpc.SignatureStatusesResult, len(signatures))}
	for i, sig := range signatures {
		if _, ok := c.metas[sig]; !ok {
			continue
		}
		out.Value[i] = &rpc.SignatureStatusesResult{
			Slot:               1,
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			Err:                c.failed[sig],
		}
	}
	return out, nil
}

func (c *Chain) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("getTransaction")
	meta, ok := c.metas[signature]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetTransactionResult{Slot: 1, Meta: meta}, nil
}

func (c *Chain) sortedAddresses() []solana.PublicKey {
	addresses := make([]solana.PublicKey, 0, len(c.accounts))
	for address := range c.accounts {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return bytes.Compare(addresses[i][:], addresses[j][:]) < 0
	})
	return addresses
}

func matches(data []byte, filters []rpc.RPCFilter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if f.Memcmp != nil {
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(data)) || !bytes.Equal(data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
		}
	}
	return true
}
