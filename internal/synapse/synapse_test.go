package synapse

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	s := New()
	assert.NotEmpty(t, s.RequestID)
	assert.NotZero(t, s.Timestamp)
	assert.Equal(t, 200, s.StatusCode)
	assert.True(t, s.IsSuccess())
}

func TestRoundTrip(t *testing.T) {
	s := New()
	s.Hotkey = "5abc"
	s.Metadata = map[string]string{"nonce": "n1"}
	s.SetSuccess("done")

	b, err := Marshal(&s)
	require.NoError(t, err)

	out := &Synapse{}
	require.NoError(t, Unmarshal(b, out))
	assert.Equal(t, s.RequestID, out.RequestID)
	assert.Equal(t, "5abc", out.Hotkey)
	assert.Equal(t, "done", out.Completion)
	assert.Equal(t, "n1", out.Metadata["nonce"])
}

func TestExtensionFieldsSurviveRoundTrip(t *testing.T) {
	wire := []byte(`{"request_id":"r1","status_code":200,"future_field":"hello","nested":{"a":1}}`)

	msg := &Synapse{}
	require.NoError(t, Unmarshal(wire, msg))
	assert.Equal(t, "r1", msg.RequestID)
	require.Contains(t, msg.Extra, "future_field")
	require.Contains(t, msg.Extra, "nested")

	b, err := Marshal(msg)
	require.NoError(t, err)
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &obj))
	assert.Equal(t, `"hello"`, string(obj["future_field"]))
	assert.JSONEq(t, `{"a":1}`, string(obj["nested"]))
}

func TestDeclaredFieldsWinOverExtensions(t *testing.T) {
	msg := &Synapse{Hotkey: "real"}
	msg.Extra = map[string]json.RawMessage{"hotkey": json.RawMessage(`"fake"`)}

	b, err := Marshal(msg)
	require.NoError(t, err)
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &obj))
	assert.Equal(t, `"real"`, string(obj["hotkey"]))
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.Metadata = map[string]string{"k": "v"}
	clone, err := Clone(&s)
	require.NoError(t, err)

	clone.Base().Metadata["k"] = "changed"
	clone.Base().Hotkey = "other"
	assert.Equal(t, "v", s.Metadata["k"])
	assert.Empty(t, s.Hotkey)
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Synapse)
		success bool
	}{
		{"fresh", func(s *Synapse) {}, true},
		{"success", func(s *Synapse) { s.SetSuccess("ok") }, true},
		{"error", func(s *Synapse) { s.SetError("boom", 500) }, false},
		{"error then success", func(s *Synapse) {
			s.SetError("boom", 500)
			s.SetSuccess("recovered")
		}, true},
		{"2xx with error text", func(s *Synapse) { s.Error = "partial" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			tt.mutate(&s)
			assert.Equal(t, tt.success, s.IsSuccess())
			assert.Equal(t, !tt.success, s.IsError())
		})
	}
}

func TestTerminalInfoURL(t *testing.T) {
	ti := &TerminalInfo{IP: "10.0.0.1", Port: 8091}
	assert.Equal(t, "http://10.0.0.1:8091", ti.URL())

	ti.Protocol = "https"
	assert.Equal(t, "https://10.0.0.1:8091", ti.URL())
}
