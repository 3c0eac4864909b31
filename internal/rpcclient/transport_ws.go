package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// WSTransport multiplexes many in-flight requests over one duplex
// connection, matching spec.md §4 overview table's "pluggable over HTTP,
// WebSocket, or local pipe" requirement and §6's subscription methods
// (e.g. subscribe_blocks).
type WSTransport struct {
	conn  *websocket.Conn
	token string

	mu      sync.Mutex
	pending map[string]chan wsResult
}

type wsRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
	Token  string `json:"token,omitempty"`
}

type wsResult struct {
	raw json.RawMessage
	err error
}

type wsResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcErr         `json:"error,omitempty"`
}

func newWSTransport(endpoint, bearerSecret string) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}
	t := &WSTransport{conn: conn, token: deriveBearerToken(bearerSecret), pending: make(map[string]chan wsResult)}
	go t.readLoop()
	return t, nil
}

func (t *WSTransport) readLoop() {
	for {
		var resp wsResponse
		if err := t.conn.ReadJSON(&resp); err != nil {
			t.mu.Lock()
			for id, ch := range t.pending {
				ch <- wsResult{err: fmt.Errorf("ws connection closed: %w", err)}
				delete(t.pending, id)
			}
			t.mu.Unlock()
			return
		}
		t.mu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.mu.Unlock()
		if !ok {
			continue
		}
		if resp.Error != nil {
			ch <- wsResult{err: fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)}
			continue
		}
		ch <- wsResult{raw: resp.Result}
	}
}

// Request implements Transport.
func (t *WSTransport) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := newRequestID()
	ch := make(chan wsResult, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.conn.WriteJSON(wsRequest{ID: id, Method: method, Params: params, Token: t.token}); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("ws write: %w", err)
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.raw, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (t *WSTransport) Close() error {
	return t.conn.Close()
}
