package solana

import (
	"errors"
	"fmt"
	"strings"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

var (
	// ErrConfirmTimeout is returned when a sent transaction is not confirmed in time
	ErrConfirmTimeout = errors.New("transaction confirmation timed out")
	// ErrNoInstructions is returned when asked to send an empty transaction
	ErrNoInstructions = errors.New("no instructions to send")
)

// TxError describes a transaction that was rejected or failed on chain
type TxError struct {
	Signature solanago.Signature
	Logs      []string
	Message   string
	Err       error
}

func (e *TxError) Error() string {
	if e.Signature.IsZero() {
		return fmt.Sprintf("transaction failed: %s", e.Message)
	}
	return fmt.Sprintf("transaction %s failed: %s", e.Signature, e.Message)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

// newTxError wraps a send or confirmation error, pulling program logs out of
// a preflight simulation failure when the node returned them
func newTxError(sig solanago.Signature, err error) *TxError {
	txErr := &TxError{
		Signature: sig,
		Message:   err.Error(),
		Err:       err,
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		txErr.Message = rpcErr.Message
		txErr.Logs = logsFromData(rpcErr.Data)
	}
	return txErr
}

func logsFromData(data interface{}) []string {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, line := range raw {
		if s, ok := line.(string); ok {
			logs = append(logs, s)
		}
	}
	return logs
}

// onChainErrorMessage renders the err field of a transaction status
func onChainErrorMessage(err interface{}) string {
	switch v := err.(type) {
	case string:
		return v
	case map[string]interface{}:
		parts := make([]string, 0, len(v))
		for k, val := range v {
			parts = append(parts, fmt.Sprintf("%s: %v", k, val))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", v)
	}
}
