package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/types"
)

// JSON-RPC error codes returned by the ledger node.
const (
	codeRoundNotFound = -32004
	codeConflict      = -32009
	codeUnauthorized  = -32003
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

type submitResult struct {
	Signature string `json:"signature"`
}

type RPCClientOpts struct {
	// RetryMax bounds retries of idempotent queries.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration
	// BatchSize is the page size of round listings. Zero fetches everything
	// in a single request.
	BatchSize int
	// WSURL enables SubscribeRounds.
	WSURL string
	// OnReconnect is called after a dropped subscription is re-established.
	// Updates published while disconnected are not replayed.
	OnReconnect func()
	Logger      *zap.Logger
}

func DefaultRPCClientOpts() RPCClientOpts {
	return RPCClientOpts{
		RetryMax:     4,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		Timeout:      30 * time.Second,
		BatchSize:    1000,
		Logger:       zap.NewNop(),
	}
}

// RPCClient implements Client over JSON-RPC on HTTP with a websocket
// subscription for push updates.
type RPCClient struct {
	endpoint *url.URL
	wsURL    string
	batch    int
	logger   *zap.Logger

	onReconnect func()

	// queries are retried with backoff, submissions are not.
	queries *retryablehttp.Client
	submits *retryablehttp.Client

	nextID atomic.Uint64
}

var _ Client = (*RPCClient)(nil)

func NewRPCClient(endpoint string, opts RPCClientOpts) (*RPCClient, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parsing rpc url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	newClient := func(retries int) *retryablehttp.Client {
		c := retryablehttp.NewClient()
		c.RetryMax = retries
		c.RetryWaitMin = opts.RetryWaitMin
		c.RetryWaitMax = opts.RetryWaitMax
		c.HTTPClient.Timeout = opts.Timeout
		c.Logger = &leveledLogger{opts.Logger.Named("http").Sugar()}
		return c
	}

	onReconnect := opts.OnReconnect
	if onReconnect == nil {
		onReconnect = func() {}
	}

	return &RPCClient{
		endpoint:    u,
		wsURL:       opts.WSURL,
		batch:       opts.BatchSize,
		logger:      opts.Logger,
		onReconnect: onReconnect,
		queries:     newClient(opts.RetryMax),
		submits:     newClient(0),
	}, nil
}

func (c *RPCClient) GetAllRounds(ctx context.Context) ([]types.Round, error) {
	if c.batch <= 0 {
		var rounds []types.Round
		if err := c.call(ctx, c.queries, "getRounds", nil, &rounds); err != nil {
			return nil, fmt.Errorf("getting rounds: %w", err)
		}
		return rounds, nil
	}

	var rounds []types.Round
	for offset := 0; ; offset += c.batch {
		var page []types.Round
		if err := c.call(ctx, c.queries, "getRounds", []any{offset, c.batch}, &page); err != nil {
			return nil, fmt.Errorf("getting rounds at offset %d: %w", offset, err)
		}
		rounds = append(rounds, page...)
		if len(page) < c.batch {
			return rounds, nil
		}
	}
}

func (c *RPCClient) GetRound(ctx context.Context, id uint64) (types.Round, error) {
	var round types.Round
	if err := c.call(ctx, c.queries, "getRound", []any{id}, &round); err != nil {
		return types.Round{}, fmt.Errorf("getting round %d: %w", id, err)
	}
	return round, nil
}

func (c *RPCClient) GetBalance(ctx context.Context, pubkey string) (types.Amount, error) {
	var res balanceResult
	if err := c.call(ctx, c.queries, "getBalance", []any{pubkey}, &res); err != nil {
		return 0, fmt.Errorf("getting balance: %w", err)
	}
	return types.Amount(res.Value), nil
}

// SubmitInstruction sends the signed instruction once. The node answers after
// the transaction is confirmed.
func (c *RPCClient) SubmitInstruction(ctx context.Context, ins Instruction, signer Signer) (string, error) {
	signed, err := Sign(ins, signer)
	if err != nil {
		return "", err
	}
	var res submitResult
	if err := c.call(ctx, c.submits, "sendInstruction", []any{signed}, &res); err != nil {
		return "", fmt.Errorf("submitting %s for round %d: %w", ins.Kind, ins.RoundID, err)
	}
	if res.Signature == "" {
		res.Signature = base58.Encode(signed.Signature)
	}
	return res.Signature, nil
}

func (c *RPCClient) call(ctx context.Context, client *retryablehttp.Client, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return types.E(types.KindTransient, method, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return types.E(types.KindTransient, method, fmt.Errorf("reading response body: %w", err))
	}
	if res.StatusCode != http.StatusOK {
		return types.E(types.KindTransient, method, fmt.Errorf("unexpected status %s: %s", res.Status, data))
	}

	var rpcRes rpcResponse
	if err := json.Unmarshal(data, &rpcRes); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if rpcRes.Error != nil {
		return classify(rpcRes.Error)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcRes.Result, result); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	return nil
}

func classify(e *rpcError) error {
	switch e.Code {
	case codeRoundNotFound:
		return fmt.Errorf("%w: %s", types.ErrRoundNotFound, e.Message)
	case codeConflict:
		return fmt.Errorf("%w: %s", types.ErrLostRace, e.Message)
	case codeUnauthorized:
		return fmt.Errorf("%w: %s", types.ErrNotRoundValidator, e.Message)
	default:
		return e
	}
}

// IsRPCError reports whether err carries a node side JSON-RPC error.
func IsRPCError(err error) bool {
	var e *rpcError
	return errors.As(err, &e)
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l *leveledLogger) Error(msg string, kv ...any) { l.s.Errorw(msg, kv...) }
func (l *leveledLogger) Info(msg string, kv ...any)  { l.s.Debugw(msg, kv...) }
func (l *leveledLogger) Debug(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *leveledLogger) Warn(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
