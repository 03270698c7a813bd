package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/wnt/battled/internal/logger"
	"github.com/wnt/battled/internal/metrics"
	chain "github.com/wnt/battled/internal/solana"
)

const (
	defaultMaxRetries = 4
	defaultBaseDelay  = 250 * time.Millisecond
	maxBackoff        = 30 * time.Second
	rateLimitCooldown = time.Minute
)

var _ chain.Client = (*Client)(nil)

// Client spreads Solana RPC calls over a Pool, retrying transient failures
// with exponential backoff on the next endpoint
type Client struct {
	pool       *Pool
	maxRetries int
	baseDelay  time.Duration
	logger     zerolog.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRetries configures retry behavior
func WithRetries(maxRetries int, baseDelay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// NewClient creates a new pooled client
func NewClient(pool *Pool, logger zerolog.Logger, options ...ClientOption) *Client {
	c := &Client{
		pool:       pool,
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
		logger:     logger.With().Str("component", "rpc_client").Logger(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*solanarpc.GetAccountInfoResult, error) {
	return call(ctx, c, "getAccountInfo", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetAccountInfoResult, error) {
		return cl.GetAccountInfo(ctx, account)
	})
}

func (c *Client) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*solanarpc.GetMultipleAccountsResult, error) {
	return call(ctx, c, "getMultipleAccounts", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetMultipleAccountsResult, error) {
		return cl.GetMultipleAccounts(ctx, accounts...)
	})
}

func (c *Client) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *solanarpc.GetProgramAccountsOpts) (solanarpc.GetProgramAccountsResult, error) {
	return call(ctx, c, "getProgramAccounts", c.maxRetries, func(cl *solanarpc.Client) (solanarpc.GetProgramAccountsResult, error) {
		return cl.GetProgramAccountsWithOpts(ctx, program, opts)
	})
}

func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *solanarpc.GetTokenAccountsConfig, opts *solanarpc.GetTokenAccountsOpts) (*solanarpc.GetTokenAccountsResult, error) {
	return call(ctx, c, "getTokenAccountsByOwner", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetTokenAccountsResult, error) {
		return cl.GetTokenAccountsByOwner(ctx, owner, conf, opts)
	})
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetBalanceResult, error) {
	return call(ctx, c, "getBalance", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetBalanceResult, error) {
		return cl.GetBalance(ctx, account, commitment)
	})
}

func (c *Client) GetHealth(ctx context.Context) (string, error) {
	return call(ctx, c, "getHealth", c.maxRetries, func(cl *solanarpc.Client) (string, error) {
		return cl.GetHealth(ctx)
	})
}

func (c *Client) GetLatestBlockhash(ctx context.Context, commitment solanarpc.CommitmentType) (*solanarpc.GetLatestBlockhashResult, error) {
	return call(ctx, c, "getLatestBlockhash", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetLatestBlockhashResult, error) {
		return cl.GetLatestBlockhash(ctx, commitment)
	})
}

// SendTransactionWithOpts makes a single attempt; resending a signed
// transaction is left to the caller
func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts solanarpc.TransactionOpts) (solana.Signature, error) {
	return call(ctx, c, "sendTransaction", 0, func(cl *solanarpc.Client) (solana.Signature, error) {
		return cl.SendTransactionWithOpts(ctx, tx, opts)
	})
}

func (c *Client) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*solanarpc.GetSignatureStatusesResult, error) {
	return call(ctx, c, "getSignatureStatuses", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetSignatureStatusesResult, error) {
		return cl.GetSignatureStatuses(ctx, searchTransactionHistory, signatures...)
	})
}

func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature, opts *solanarpc.GetTransactionOpts) (*solanarpc.GetTransactionResult, error) {
	return call(ctx, c, "getTransaction", c.maxRetries, func(cl *solanarpc.Client) (*solanarpc.GetTransactionResult, error) {
		return cl.GetTransaction(ctx, signature, opts)
	})
}

// call runs fn against pooled endpoints until it succeeds, fails with an
// answer from the node, or retries are exhausted
func call[T any](ctx context.Context, c *Client, method string, maxRetries int, fn func(*solanarpc.Client) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			delay := c.baseDelay * time.Duration(1<<(attempt-1))
			if delay > maxBackoff {
				delay = maxBackoff
			}

			c.logger.Debug().
				Str("method", method).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying RPC call after delay")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				metrics.RecordRPCRequest("cancelled")
				return zero, ctx.Err()
			}
		}

		client, endpoint, err := c.pool.GetClient(ctx)
		if err != nil {
			metrics.RecordRPCRequest("cancelled")
			return zero, fmt.Errorf("failed to get RPC client: %w", err)
		}

		startTime := time.Now()
		out, err := fn(client)
		duration := time.Since(startTime)

		if err == nil {
			metrics.RecordRPCRequest("success")
			c.pool.MarkHealthy(endpoint)
			return out, nil
		}

		if !c.retryable(endpoint, method, err, duration) {
			return zero, err
		}
		lastErr = err

		log := logger.WithRPCEndpoint(c.logger, endpoint)
		log.Warn().
			Err(err).
			Str("method", method).
			Int("attempt", attempt+1).
			Int("max_retries", maxRetries).
			Msg("RPC call failed")
	}

	metrics.RecordRPCRequest("failed")
	return zero, fmt.Errorf("%s failed after %d attempts: %w", method, maxRetries+1, lastErr)
}

// retryable classifies an error and updates endpoint health accordingly.
// Answers from a working node (not found, JSON-RPC errors) are final.
func (c *Client) retryable(endpoint, method string, err error, duration time.Duration) bool {
	if errors.Is(err, solanarpc.ErrNotFound) {
		metrics.RecordRPCRequest("not_found")
		c.pool.MarkHealthy(endpoint)
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		metrics.RecordRPCRequest("cancelled")
		return false
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		metrics.RecordRPCRequest("rpc_error")
		c.pool.MarkHealthy(endpoint)
		return false
	}

	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) &&
		(httpErr.Code == http.StatusTooManyRequests || httpErr.Code == http.StatusServiceUnavailable) {
		c.handleRateLimit(endpoint)
		return true
	}

	c.handleError(endpoint, method, err, duration)
	return true
}

// handleError marks endpoints as unhealthy on transport and HTTP errors
func (c *Client) handleError(endpoint, method string, err error, duration time.Duration) {
	log := logger.WithRPCEndpoint(c.logger, endpoint)
	log.Error().
		Err(err).
		Str("method", method).
		Dur("duration", duration).
		Msg("RPC request failed")

	c.pool.MarkUnhealthy(endpoint)
	metrics.RecordRPCRequest("error")
}

// handleRateLimit handles rate limiting by setting cooldown
func (c *Client) handleRateLimit(endpoint string) {
	c.logger.Warn().
		Str("endpoint", endpoint).
		Msg("Rate limited by endpoint")

	c.pool.SetCooldown(endpoint, rateLimitCooldown)
	metrics.RecordRPCRequest("rate_limited")
}
