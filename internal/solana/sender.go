package solana

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 2 * time.Second
)

// Sender builds, signs, sends and confirms transactions paid by one wallet
type Sender struct {
	client         Writer
	signer         solanago.PrivateKey
	priorityFee    uint64
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         zerolog.Logger
}

// SenderOption configures a Sender
type SenderOption func(*Sender)

// WithPriorityFee prefixes every transaction with a compute unit price in micro-lamports
func WithPriorityFee(microLamports uint64) SenderOption {
	return func(s *Sender) {
		s.priorityFee = microLamports
	}
}

// WithConfirmation sets how long and how often confirmation is polled
func WithConfirmation(timeout, pollInterval time.Duration) SenderOption {
	return func(s *Sender) {
		s.confirmTimeout = timeout
		s.pollInterval = pollInterval
	}
}

// NewSender creates a Sender signing with signer
func NewSender(client Writer, signer solanago.PrivateKey, logger zerolog.Logger, options ...SenderOption) *Sender {
	s := &Sender{
		client:         client,
		signer:         signer,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
		logger:         logger.With().Str("component", "sender").Logger(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Payer returns the wallet paying for and signing transactions
func (s *Sender) Payer() solanago.PublicKey {
	return s.signer.PublicKey()
}

// Send signs and sends the instructions as one transaction and waits for it
// to reach confirmed commitment. Sends are not retried; a failure is returned
// as a *TxError.
func (s *Sender) Send(ctx context.Context, instructions ...solanago.Instruction) (solanago.Signature, error) {
	if len(instructions) == 0 {
		return solanago.Signature{}, ErrNoInstructions
	}

	if s.priorityFee > 0 {
		fee := computebudget.NewSetComputeUnitPriceInstruction(s.priorityFee).Build()
		instructions = append([]solanago.Instruction{fee}, instructions...)
	}

	latest, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	payer := s.Payer()
	tx, err := solanago.NewTransaction(instructions, latest.Value.Blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(payer) {
			return &s.signer
		}
		return nil
	}); err != nil {
		return solanago.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig := tx.Signatures[0]

	if _, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	}); err != nil {
		txErr := newTxError(sig, err)
		s.logger.Error().
			Str("signature", sig.String()).
			Strs("logs", txErr.Logs).
			Str("message", txErr.Message).
			Msg("Transaction rejected")
		return sig, txErr
	}

	s.logger.Debug().Str("signature", sig.String()).Msg("Transaction sent")

	if err := s.Confirm(ctx, sig); err != nil {
		return sig, err
	}

	s.logger.Info().Str("signature", sig.String()).Msg("Transaction confirmed")
	return sig, nil
}

// Confirm polls the signature status until it is confirmed, fails on chain,
// or the confirmation timeout elapses
func (s *Sender) Confirm(ctx context.Context, sig solanago.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	for {
		res, err := s.client.GetSignatureStatuses(ctx, false, sig)
		switch {
		case err != nil && !errors.Is(err, rpc.ErrNotFound):
			s.logger.Debug().Err(err).Str("signature", sig.String()).Msg("Signature status unavailable")
		case res != nil && len(res.Value) > 0 && res.Value[0] != nil:
			status := res.Value[0]
			if status.Err != nil {
				return s.failed(ctx, sig, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &TxError{Signature: sig, Message: ErrConfirmTimeout.Error(), Err: ErrConfirmTimeout}
		case <-timer.C:
		}
	}
}

func (s *Sender) failed(ctx context.Context, sig solanago.Signature, onChainErr interface{}) *TxError {
	txErr := &TxError{
		Signature: sig,
		Message:   onChainErrorMessage(onChainErr),
		Err:       fmt.Errorf("on-chain error: %v", onChainErr),
	}
	if res, err := s.getTransaction(ctx, sig); err == nil && res.Meta != nil {
		txErr.Logs = res.Meta.LogMessages
	}

	s.logger.Error().
		Str("signature", sig.String()).
		Strs("logs", txErr.Logs).
		Str("message", txErr.Message).
		Msg("Transaction failed on chain")
	return txErr
}

// TokenBalanceDelta returns the change of owner's mint balance in a confirmed transaction
func (s *Sender) TokenBalanceDelta(ctx context.Context, sig solanago.Signature, owner, mint solanago.PublicKey) (*big.Int, error) {
	res, err := s.getTransaction(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}
	if res.Meta == nil {
		return nil, ErrBalanceUnavailable
	}
	return TokenBalanceChange(res.Meta, owner, mint)
}

func (s *Sender) getTransaction(ctx context.Context, sig solanago.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := rpc.MaxSupportedTransactionVersion0
	return s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
}
