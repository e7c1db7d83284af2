// Package phloem is the validator-side RPC client. It fans a message out to
// miner endpoints, signs each request when a keyring is configured, and
// folds every transport failure into the returned message rather than an
// error, so one dead miner never aborts a sweep.
package phloem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hetu/internal/synapse"
)

const DefaultTimeout = 12 * time.Second

type Phloem struct {
	log    *zap.SugaredLogger
	hotkey *signature.KeyringPair
	uuid   string

	mu     sync.Mutex
	client *http.Client
}

// New creates a client. hotkey may be nil, in which case requests go out
// unsigned.
func New(log *zap.SugaredLogger, hotkey *signature.KeyringPair) *Phloem {
	return &Phloem{
		log:    log,
		hotkey: hotkey,
		uuid:   uuid.NewString(),
	}
}

type QueryOptions struct {
	Timeout  time.Duration
	Parallel bool
}

// Query sends msg to every target and returns one response per target in
// the same order. Each target gets its own clone of msg.
func (p *Phloem) Query(ctx context.Context, targets []*synapse.TerminalInfo, msg synapse.Message, opts QueryOptions) []synapse.Message {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	responses := make([]synapse.Message, len(targets))
	if !opts.Parallel {
		for i, t := range targets {
			responses[i] = p.call(ctx, t, msg, opts.Timeout)
		}
		return responses
	}
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t *synapse.TerminalInfo) {
			defer wg.Done()
			responses[i] = p.call(ctx, t, msg, opts.Timeout)
		}(i, t)
	}
	wg.Wait()
	return responses
}

func (p *Phloem) QueryOne(ctx context.Context, target *synapse.TerminalInfo, msg synapse.Message, timeout time.Duration) synapse.Message {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return p.call(ctx, target, msg, timeout)
}

func (p *Phloem) call(ctx context.Context, target *synapse.TerminalInfo, msg synapse.Message, timeout time.Duration) synapse.Message {
	out, err := synapse.Clone(msg)
	if err != nil {
		failed := msg.Empty()
		failed.Base().SetError(fmt.Sprintf("failed to clone request: %s", err), http.StatusInternalServerError)
		return failed
	}
	out.Base().Timeout = timeout.Seconds()

	url := target.URL() + "/" + msg.ServiceName()
	if p.hotkey != nil {
		p.sign(out, url)
	}

	body, err := synapse.Marshal(out)
	if err != nil {
		out.Base().SetError(fmt.Sprintf("failed to serialize request: %s", err), http.StatusInternalServerError)
		return out
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		out.Base().SetError(fmt.Sprintf("failed to build request: %s", err), http.StatusInternalServerError)
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Close = true

	res, err := p.httpClient().Do(req)
	if err != nil {
		code, text := mapTransportError(err)
		out.Base().SetError(fmt.Sprintf("%s: %s", text, err), code)
		return out
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		out.Base().SetError(fmt.Sprintf("Payload error: %s", err), http.StatusBadRequest)
		return out
	}

	if res.StatusCode == http.StatusOK {
		decoded := msg.Empty()
		if err := synapse.Unmarshal(resBody, decoded); err != nil {
			out.Base().SetError(fmt.Sprintf("Failed to parse response: %s", err), http.StatusUnprocessableEntity)
			return out
		}
		return decoded
	}

	text := extractError(resBody)
	out.Base().SetError(text, res.StatusCode)
	return out
}

// sign attaches hotkey, nonce, and the sr25519 signature over
// "<nonce>.<hotkey>.<url>". Signing failures are logged and the request
// goes out unsigned; the far side decides whether to accept it.
func (p *Phloem) sign(msg synapse.Message, url string) {
	base := msg.Base()
	base.Hotkey = p.hotkey.Address
	if base.Metadata == nil {
		base.Metadata = map[string]string{}
	}
	base.Metadata["nonce"] = p.uuid
	signed := fmt.Sprintf("%s.%s.%s", p.uuid, p.hotkey.Address, url)
	sig, err := signature.Sign([]byte(signed), p.hotkey.URI)
	if err != nil {
		p.log.Warnw("Failed signing request", "error", err)
		return
	}
	base.Signature = types.NewSignature(sig).Hex()
}

// extractError pulls the error text out of a non-200 response body.
func extractError(body []byte) string {
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.Error != "" {
		return obj.Error
	}
	return "unknown error"
}

func (p *Phloem) httpClient() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		tr := &http.Transport{
			TLSHandshakeTimeout: 5 * time.Second,
			DisableKeepAlives:   true,
		}
		p.client = &http.Client{Transport: tr}
	}
	return p.client
}

// Close releases the shared transport. The client is usable again after
// Close; a fresh transport is created on the next call.
func (p *Phloem) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		p.client.CloseIdleConnections()
		p.client = nil
	}
}

// mapTransportError translates a transport failure into the status code and
// text the response message carries.
func mapTransportError(err error) (int, string) {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return http.StatusServiceUnavailable, "Service unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, "Request timeout"
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, syscall.ECONNRESET):
		return http.StatusServiceUnavailable, "Service disconnected"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return http.StatusGatewayTimeout, "Server timeout error"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return http.StatusInternalServerError, "Client error"
	}
	return http.StatusUnprocessableEntity, "Failed to parse response"
}
