package xylem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hetu/internal/phloem"
	"hetu/internal/protocol"
	"hetu/internal/synapse"
)

func testLog() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func startServer(t *testing.T, svc *Service) *Xylem {
	t.Helper()
	x := New(Config{Port: 0, MaxWorkers: 2}, testLog())
	if svc != nil {
		x.Attach(svc)
	}
	require.NoError(t, x.Start())
	t.Cleanup(func() { _ = x.Stop() })
	return x
}

func post(t *testing.T, x *Xylem, path string, body []byte) (*http.Response, []byte) {
	t.Helper()
	info := x.Info()
	url := fmt.Sprintf("http://%s:%d%s", info.IP, info.Port, path)
	res, err := http.Post(url, "application/json", bytes.NewBuffer(body))
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, b
}

func sumService() *Service {
	return &Service{
		Proto: &protocol.MathSumSynapse{},
		Forward: func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
			m := msg.(*protocol.MathSumSynapse)
			m.SumResult = m.X + m.Y
			m.SetSuccess("ok")
			return m, nil
		},
	}
}

func TestPingBypassesPipeline(t *testing.T) {
	x := startServer(t, &Service{
		Proto: &protocol.MathSumSynapse{},
		Forward: func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
			return msg, nil
		},
		Blacklist: func(msg synapse.Message) bool { return true },
	})

	res, body := post(t, x, "/ping", []byte{})
	assert.Equal(t, http.StatusOK, res.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "pong", out["completion"])
	assert.Equal(t, "ok", out["status"])
}

func TestForwardHappyPath(t *testing.T) {
	x := startServer(t, sumService())

	probe := protocol.NewMathSum(2, 3)
	b, err := synapse.Marshal(probe)
	require.NoError(t, err)
	res, body := post(t, x, "/MathSumSynapse", b)
	require.Equal(t, http.StatusOK, res.StatusCode)

	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Equal(t, 5.0, out.SumResult)
	assert.True(t, out.IsSuccess())
	assert.Greater(t, out.ProcessTime, 0.0)
	assert.Equal(t, probe.RequestID, out.RequestID)
}

func TestBadBody(t *testing.T) {
	x := startServer(t, sumService())

	res, _ := post(t, x, "/MathSumSynapse", []byte{})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := post(t, x, "/MathSumSynapse", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	var out map[string]string
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Contains(t, out["error"], "failed to parse request")
}

func TestVerifyFailureRejectsBeforeForward(t *testing.T) {
	forwarded := false
	svc := sumService()
	svc.Forward = func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
		forwarded = true
		return msg, nil
	}
	svc.Verify = func(msg synapse.Message) error { return errors.New("bad signature") }
	x := startServer(t, svc)

	probe := protocol.NewMathSum(1, 1)
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.False(t, forwarded)

	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Contains(t, out.Error, "verification failed")
	assert.Contains(t, out.Error, "bad signature")
	assert.Greater(t, out.ProcessTime, 0.0)
}

func TestBlacklistRejects(t *testing.T) {
	svc := sumService()
	svc.Blacklist = func(msg synapse.Message) bool { return msg.Base().Hotkey != "friend" }
	x := startServer(t, svc)

	probe := protocol.NewMathSum(1, 1)
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Equal(t, "request blacklisted", out.Error)

	probe.Hotkey = "friend"
	b, _ = synapse.Marshal(probe)
	res, _ = post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestPriorityErrorIsSoft(t *testing.T) {
	svc := sumService()
	svc.Priority = func(msg synapse.Message) (float64, error) { return 0, errors.New("unknown sender") }
	x := startServer(t, svc)

	probe := protocol.NewMathSum(4, 4)
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Equal(t, 8.0, out.SumResult)
}

func TestForwardErrorBecomes500(t *testing.T) {
	svc := sumService()
	svc.Forward = func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
		return nil, errors.New("compute exploded")
	}
	x := startServer(t, svc)

	probe := protocol.NewMathSum(1, 1)
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Contains(t, out.Error, "compute exploded")
}

func TestHandlerTimeout(t *testing.T) {
	svc := sumService()
	svc.Forward = func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
		time.Sleep(2 * time.Second)
		return msg, nil
	}
	x := startServer(t, svc)

	probe := protocol.NewMathSum(1, 1)
	probe.Timeout = 0.05
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Equal(t, "handler timed out", out.Error)
	assert.Equal(t, probe.RequestID, out.RequestID)
}

func TestExtensionFieldsRoundTripThroughServer(t *testing.T) {
	x := startServer(t, sumService())

	probe := protocol.NewMathSum(1, 2)
	b, _ := synapse.Marshal(probe)
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &obj))
	obj["client_extension"] = json.RawMessage(`"v2"`)
	b, _ = json.Marshal(obj)

	res, body := post(t, x, "/MathSumSynapse", b)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, `"v2"`, string(out["client_extension"]))
}

func TestReattachReplacesHandler(t *testing.T) {
	x := startServer(t, sumService())

	svc := sumService()
	svc.Forward = func(ctx context.Context, msg synapse.Message) (synapse.Message, error) {
		m := msg.(*protocol.MathSumSynapse)
		m.SumResult = -1
		m.SetSuccess("replaced")
		return m, nil
	}
	x.Attach(svc)

	probe := protocol.NewMathSum(2, 2)
	b, _ := synapse.Marshal(probe)
	res, body := post(t, x, "/MathSumSynapse", b)
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := &protocol.MathSumSynapse{}
	require.NoError(t, synapse.Unmarshal(body, out))
	assert.Equal(t, -1.0, out.SumResult)
	assert.Equal(t, "replaced", out.Completion)

	info := x.Info()
	assert.Equal(t, []string{"MathSumSynapse"}, info.Services)
}

func TestStartIsIdempotent(t *testing.T) {
	x := startServer(t, sumService())
	port := x.Info().Port
	require.NoError(t, x.Start())
	assert.Equal(t, port, x.Info().Port)
}

func TestSignedRoundTrip(t *testing.T) {
	kp := signature.TestKeyringPairAlice

	x := New(Config{Port: 0, MaxWorkers: 2}, testLog())
	require.NoError(t, x.Start())
	t.Cleanup(func() { _ = x.Stop() })

	info := x.Info()
	externalURL := fmt.Sprintf("http://%s:%d", info.IP, info.Port)
	svc := sumService()
	svc.Verify = VerifySignature(externalURL)
	x.Attach(svc)

	client := phloem.New(testLog(), &kp)
	defer client.Close()

	target := &synapse.TerminalInfo{IP: info.IP, Port: info.Port}
	res := client.QueryOne(context.Background(), target, protocol.NewMathSum(10, 20), time.Second)
	sum, ok := res.(*protocol.MathSumSynapse)
	require.True(t, ok, "unexpected response: %+v", res)
	require.True(t, sum.IsSuccess(), "error: %s", sum.Error)
	assert.Equal(t, 30.0, sum.SumResult)

	// A forged signature fails verification.
	bad := protocol.NewMathSum(1, 1)
	bad.Hotkey = kp.Address
	bad.Signature = "0xdeadbeef"
	bad.Metadata = map[string]string{"nonce": "n1"}
	b, _ := synapse.Marshal(bad)
	httpRes, _ := post(t, x, "/MathSumSynapse", b)
	assert.Equal(t, http.StatusUnauthorized, httpRes.StatusCode)
}
