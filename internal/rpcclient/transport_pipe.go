package rpcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
)

// PipeTransport is a same-host transport over a local socket, used for
// tests and for same-machine node<->client wiring (spec.md §4 overview
// table, "local pipe"). The file:///pipe/<name> URL convention of spec.md
// §6 maps to a Unix domain socket at /tmp/evmforge-pipes/<name>.sock; the
// platform's native named-pipe path (\\.\pipe\<name> on the Windows OS
// family spec.md §6 references) is not supported.
type PipeTransport struct {
	name string

	mu      sync.Mutex
	conn    net.Conn
	scanner *bufio.Scanner
}

func pipeSocketPath(name string) string {
	return filepath.Join("/tmp/evmforge-pipes", name+".sock")
}

func newPipeTransport(name string) (*PipeTransport, error) {
	conn, err := net.Dial("unix", pipeSocketPath(name))
	if err != nil {
		return nil, fmt.Errorf("pipe dial %s: %w", name, err)
	}
	return &PipeTransport{name: name, conn: conn, scanner: bufio.NewScanner(conn)}, nil
}

// Request implements Transport using newline-delimited JSON request/response
// framing, the simplest framing that still lets PipeTransport share
// rpcEnvelope/rpcResponse with HTTPTransport.
func (t *PipeTransport) Request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	body, err := json.Marshal(rpcEnvelope{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	body = append(body, '\n')

	type ioResult struct {
		raw json.RawMessage
		err error
	}
	done := make(chan ioResult, 1)
	go func() {
		if _, err := t.conn.Write(body); err != nil {
			done <- ioResult{err: fmt.Errorf("pipe write: %w", err)}
			return
		}
		if !t.scanner.Scan() {
			done <- ioResult{err: fmt.Errorf("pipe closed: %v", t.scanner.Err())}
			return
		}
		var rr rpcResponse
		if err := json.Unmarshal(t.scanner.Bytes(), &rr); err != nil {
			done <- ioResult{err: fmt.Errorf("decode response: %w", err)}
			return
		}
		if rr.Error != nil {
			done <- ioResult{err: fmt.Errorf("rpc error %d: %s", rr.Error.Code, rr.Error.Message)}
			return
		}
		done <- ioResult{raw: rr.Result}
	}()

	select {
	case res := <-done:
		return res.raw, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (t *PipeTransport) Close() error {
	return t.conn.Close()
}
