package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/decloud-network/validator/types"
)

const (
	subscribeMethod    = "roundSubscribe"
	notificationMethod = "roundNotification"
)

var ErrNoWebsocket = errors.New("websocket url not configured")

type notification struct {
	Method string `json:"method"`
	Params struct {
		Subscription uint64      `json:"subscription"`
		Result       types.Round `json:"result"`
	} `json:"params"`
}

// SubscribeRounds dials the websocket endpoint and streams round updates.
// Dropped connections are re-established with exponential backoff and
// reported through RPCClientOpts.OnReconnect. The returned channel is closed
// only when ctx is done.
func (c *RPCClient) SubscribeRounds(ctx context.Context) (<-chan types.Round, error) {
	if c.wsURL == "" {
		return nil, types.E(types.KindConfiguration, "subscribe", ErrNoWebsocket)
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, types.E(types.KindTransient, "subscribe", err)
	}

	out := make(chan types.Round, 64)
	go c.listen(ctx, conn, out)
	return out, nil
}

func (c *RPCClient) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.wsURL, err)
	}
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: subscribeMethod}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending subscribe request: %w", err)
	}
	return conn, nil
}

func (c *RPCClient) listen(ctx context.Context, conn *websocket.Conn, out chan<- types.Round) {
	logger := c.logger.Named("subscription")
	defer close(out)

	b := &backoff.Backoff{
		Min:    500 * time.Millisecond,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := c.readLoop(ctx, conn, out, logger)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("websocket connection lost, reconnecting", zap.Error(err))

		for {
			wait := b.Duration()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			conn, err = c.dial(ctx)
			if err == nil {
				break
			}
			logger.Warn("reconnect failed", zap.Error(err), zap.Duration("backoff", wait))
		}
		b.Reset()
		logger.Info("websocket reconnected")
		c.onReconnect()
	}
}

func (c *RPCClient) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- types.Round, logger *zap.Logger) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var n notification
		if err := json.Unmarshal(message, &n); err != nil {
			logger.Debug("ignoring undecodable message", zap.Error(err), zap.ByteString("message", message))
			continue
		}
		if n.Method != notificationMethod {
			continue
		}

		select {
		case out <- n.Params.Result:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
