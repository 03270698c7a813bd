package solana

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	sent     []*solanago.Transaction
	sendErr  error
	statuses []*rpc.SignatureStatusesResult
	polls    int
	meta     *rpc.TransactionMeta
}

func (f *fakeWriter) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solanago.Hash{1}, LastValidBlockHeight: 100},
	}, nil
}

func (f *fakeWriter) SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	if f.sendErr != nil {
		return solanago.Signature{}, f.sendErr
	}
	return tx.Signatures[0], nil
}

// GetSignatureStatuses replays statuses in order and repeats the last one
func (f *fakeWriter) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return nil, rpc.ErrNotFound
	}
	i := f.polls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.polls++
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{f.statuses[i]}}, nil
}

func (f *fakeWriter) GetTransaction(ctx context.Context, sig solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	if f.meta == nil {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetTransactionResult{Slot: 1, Meta: f.meta}, nil
}

func newTestSender(t *testing.T, w *fakeWriter, options ...SenderOption) *Sender {
	t.Helper()
	key, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	options = append([]SenderOption{WithConfirmation(200*time.Millisecond, time.Millisecond)}, options...)
	return NewSender(w, key, zerolog.Nop(), options...)
}

func transferInstruction(payer solanago.PublicKey) solanago.Instruction {
	return solanago.NewInstruction(
		solanago.SystemProgramID,
		solanago.AccountMetaSlice{solanago.Meta(payer).WRITE().SIGNER()},
		[]byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
	)
}

func TestSenderSend(t *testing.T) {
	w := &fakeWriter{statuses: []*rpc.SignatureStatusesResult{
		nil,
		{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
		{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
	}}
	s := newTestSender(t, w, WithPriorityFee(1000))

	sig, err := s.Send(context.Background(), transferInstruction(s.Payer()))
	require.NoError(t, err)
	require.Len(t, w.sent, 1)

	tx := w.sent[0]
	assert.Equal(t, tx.Signatures[0], sig)
	assert.Len(t, tx.Message.Instructions, 2, "priority fee instruction is prefixed")
	assert.True(t, tx.Message.AccountKeys[0].Equals(s.Payer()))
	assert.GreaterOrEqual(t, w.polls, 3)
}

func TestSenderSendWithoutInstructions(t *testing.T) {
	s := newTestSender(t, &fakeWriter{})
	_, err := s.Send(context.Background())
	assert.ErrorIs(t, err, ErrNoInstructions)
}

func TestSenderPreflightRejection(t *testing.T) {
	w := &fakeWriter{sendErr: &jsonrpc.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed: Error processing Instruction 1",
		Data: map[string]interface{}{
			"logs": []interface{}{
				"Program cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG invoke [1]",
				"Program log: Exceeded slippage tolerance",
			},
		},
	}}
	s := newTestSender(t, w)

	sig, err := s.Send(context.Background(), transferInstruction(s.Payer()))
	require.Error(t, err)

	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Equal(t, sig, txErr.Signature)
	assert.Equal(t, "Transaction simulation failed: Error processing Instruction 1", txErr.Message)
	assert.Equal(t, []string{
		"Program cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG invoke [1]",
		"Program log: Exceeded slippage tolerance",
	}, txErr.Logs)
	assert.Len(t, w.sent, 1, "sends are not retried")
}

func TestSenderOnChainFailure(t *testing.T) {
	w := &fakeWriter{
		statuses: []*rpc.SignatureStatusesResult{{
			ConfirmationStatus: rpc.ConfirmationStatusConfirmed,
			Err:                map[string]interface{}{"InstructionError": []interface{}{1, map[string]interface{}{"Custom": 6003}}},
		}},
		meta: &rpc.TransactionMeta{LogMessages: []string{"Program log: AnchorError"}},
	}
	s := newTestSender(t, w)

	_, err := s.Send(context.Background(), transferInstruction(s.Payer()))

	var txErr *TxError
	require.True(t, errors.As(err, &txErr))
	assert.Contains(t, txErr.Message, "InstructionError")
	assert.Equal(t, []string{"Program log: AnchorError"}, txErr.Logs)
}

func TestSenderConfirmTimeout(t *testing.T) {
	w := &fakeWriter{}
	s := newTestSender(t, w, WithConfirmation(20*time.Millisecond, 5*time.Millisecond))

	_, err := s.Send(context.Background(), transferInstruction(s.Payer()))
	assert.ErrorIs(t, err, ErrConfirmTimeout)
}

func TestTokenBalanceDelta(t *testing.T) {
	owner := solanago.NewWallet().PublicKey()
	w := &fakeWriter{meta: &rpc.TransactionMeta{
		PreTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 3, Owner: &owner, Mint: solanago.SolMint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "100", Decimals: 9}},
		},
		PostTokenBalances: []rpc.TokenBalance{
			{AccountIndex: 3, Owner: &owner, Mint: solanago.SolMint, UiTokenAmount: &rpc.UiTokenAmount{Amount: "2500000100", Decimals: 9}},
		},
	}}
	s := newTestSender(t, w)

	delta, err := s.TokenBalanceDelta(context.Background(), solanago.Signature{9}, owner, solanago.SolMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000000), ReceivedAmount(delta))
}
