package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcNode struct {
	server *httptest.Server
	calls  atomic.Int32
}

// newRPCNode starts a JSON-RPC server answering every call with reply
func newRPCNode(t *testing.T, reply func(method string) (status int, body string)) *rpcNode {
	t.Helper()
	node := &rpcNode{}
	node.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		node.calls.Add(1)

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		status, body := reply(req.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,` + body + `}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(node.server.Close)
	return node
}

func healthy(method string) (int, string) {
	switch method {
	case "getHealth":
		return http.StatusOK, `"result":"ok"`
	case "getAccountInfo":
		return http.StatusOK, `"result":{"context":{"slot":1},"value":null}`
	case "getBalance":
		return http.StatusOK, `"result":{"context":{"slot":1},"value":2500000000}`
	default:
		return http.StatusOK, `"error":{"code":-32601,"message":"Method not found"}`
	}
}

func broken(string) (int, string) {
	return http.StatusInternalServerError, "upstream unavailable"
}

func rateLimited(string) (int, string) {
	return http.StatusTooManyRequests, "slow down"
}

func newTestClient(t *testing.T, nodes ...*rpcNode) *Client {
	t.Helper()
	urls := make([]string, len(nodes))
	for i, n := range nodes {
		urls[i] = n.server.URL
	}
	pool, err := NewPool(urls, 1000, 1000, zerolog.Nop())
	require.NoError(t, err)
	pool.current = 0
	return NewClient(pool, zerolog.Nop(), WithRetries(2, time.Millisecond))
}

func TestNewPoolWithoutEndpoints(t *testing.T) {
	_, err := NewPool(nil, 1, 1, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestClientRoundRobin(t *testing.T) {
	a := newRPCNode(t, healthy)
	b := newRPCNode(t, healthy)
	c := newTestClient(t, a, b)

	for i := 0; i < 4; i++ {
		status, err := c.GetHealth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, solanarpc.HealthOk, status)
	}

	assert.Equal(t, int32(2), a.calls.Load())
	assert.Equal(t, int32(2), b.calls.Load())
}

func TestClientFailsOverToHealthyEndpoint(t *testing.T) {
	bad := newRPCNode(t, broken)
	good := newRPCNode(t, healthy)
	c := newTestClient(t, bad, good)

	res, err := c.GetBalance(context.Background(), solana.SystemProgramID, solanarpc.CommitmentConfirmed)
	require.NoError(t, err)
	assert.Equal(t, uint64(2500000000), res.Value)

	stats := c.pool.Stats()
	assert.Equal(t, 2, stats.TotalEndpoints)
	assert.Equal(t, 1, stats.HealthyEndpoints)
	assert.False(t, stats.Endpoints[0].Healthy)
	assert.True(t, stats.Endpoints[1].Healthy)
}

func TestClientCoolsDownRateLimitedEndpoint(t *testing.T) {
	limited := newRPCNode(t, rateLimited)
	good := newRPCNode(t, healthy)
	c := newTestClient(t, limited, good)

	_, err := c.GetHealth(context.Background())
	require.NoError(t, err)

	stats := c.pool.Stats()
	assert.True(t, stats.Endpoints[0].InCooldown)
	assert.True(t, stats.Endpoints[0].Healthy)

	// Later calls skip the cooling endpoint
	_, err = c.GetHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), limited.calls.Load())
}

func TestClientDoesNotRetryNodeAnswers(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		node := newRPCNode(t, healthy)
		c := newTestClient(t, node)

		_, err := c.GetAccountInfo(context.Background(), solana.SystemProgramID)
		assert.ErrorIs(t, err, solanarpc.ErrNotFound)
		assert.Equal(t, int32(1), node.calls.Load())
	})

	t.Run("json-rpc error", func(t *testing.T) {
		node := newRPCNode(t, healthy)
		c := newTestClient(t, node)

		_, err := c.GetLatestBlockhash(context.Background(), solanarpc.CommitmentConfirmed)
		var rpcErr *jsonrpc.RPCError
		require.True(t, errors.As(err, &rpcErr))
		assert.Equal(t, -32601, rpcErr.Code)
		assert.Equal(t, int32(1), node.calls.Load())
	})
}

func TestClientGivesUpAfterRetries(t *testing.T) {
	node := newRPCNode(t, broken)
	c := newTestClient(t, node)

	_, err := c.GetHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getHealth failed after 3 attempts")
	assert.Equal(t, int32(3), node.calls.Load())
}

func TestClientSendIsSingleAttempt(t *testing.T) {
	node := newRPCNode(t, broken)
	c := newTestClient(t, node)

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	payer := key.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(
			solana.SystemProgramID,
			solana.AccountMetaSlice{solana.Meta(payer).WRITE().SIGNER()},
			[]byte{2, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0},
		)},
		solana.Hash{1},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(solana.PublicKey) *solana.PrivateKey { return &key })
	require.NoError(t, err)

	_, err = c.SendTransactionWithOpts(context.Background(), tx, solanarpc.TransactionOpts{})
	require.Error(t, err)
	assert.Equal(t, int32(1), node.calls.Load())
}

func TestPoolWaitsForRateLimiter(t *testing.T) {
	pool, err := NewPool([]string{"http://127.0.0.1:1"}, 0.001, 1, zerolog.Nop())
	require.NoError(t, err)

	_, _, err = pool.GetClient(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err = pool.GetClient(ctx)
	assert.Error(t, err)
}

func TestPoolHealthTransitions(t *testing.T) {
	pool, err := NewPool([]string{"a", "b"}, 1, 1, zerolog.Nop())
	require.NoError(t, err)

	pool.MarkUnhealthy("a")
	pool.SetCooldown("b", time.Hour)
	assert.Equal(t, 0, pool.HealthyEndpointCount())

	pool.MarkHealthy("b")
	assert.Equal(t, 1, pool.HealthyEndpointCount())

	// Unknown endpoints are ignored
	pool.MarkUnhealthy("c")
	assert.Equal(t, 1, pool.HealthyEndpointCount())
}
