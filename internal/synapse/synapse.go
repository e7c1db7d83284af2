// Package synapse defines the typed request/response envelope exchanged
// between xylem servers and phloem clients, along with the terminal records
// used to address them.
package synapse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Message is implemented by every synapse subtype. ServiceName is the
// route identifier a xylem server exposes the subtype under, and Empty
// returns a fresh zero instance of the same subtype for decoding.
type Message interface {
	ServiceName() string
	Base() *Synapse
	Empty() Message
}

// Synapse is the base envelope. Subtypes embed it and add their own
// service-specific fields. RequestID and Timestamp identify a message and
// never change after construction; the outcome fields (Completion, Error,
// StatusCode, ProcessTime) are filled in as the message moves through the
// pipeline.
type Synapse struct {
	Hotkey      string            `json:"hotkey,omitempty"`
	Signature   string            `json:"signature,omitempty"`
	Completion  string            `json:"completion,omitempty"`
	Error       string            `json:"error,omitempty"`
	StatusCode  int               `json:"status_code,omitempty"`
	Timeout     float64           `json:"timeout,omitempty"`
	RequestID   string            `json:"request_id,omitempty"`
	Timestamp   int64             `json:"timestamp,omitempty"`
	ProcessTime float64           `json:"process_time,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`

	// Extra holds fields from the wire that the subtype does not declare.
	// They are merged back into the object on Marshal so peers running
	// newer message versions round-trip cleanly.
	Extra map[string]json.RawMessage `json:"-"`
}

func New() Synapse {
	return Synapse{
		RequestID:  uuid.NewString(),
		Timestamp:  time.Now().UnixMilli(),
		StatusCode: http.StatusOK,
	}
}

func (s *Synapse) ServiceName() string { return "Synapse" }
func (s *Synapse) Base() *Synapse     { return s }
func (s *Synapse) Empty() Message     { return &Synapse{} }

func (s *Synapse) SetSuccess(completion string) {
	s.Completion = completion
	s.Error = ""
	s.StatusCode = http.StatusOK
}

func (s *Synapse) SetError(msg string, code int) {
	s.Error = msg
	s.StatusCode = code
}

func (s *Synapse) IsSuccess() bool {
	return s.StatusCode >= 200 && s.StatusCode < 300 && s.Error == ""
}

func (s *Synapse) IsError() bool { return !s.IsSuccess() }

// Marshal serializes m, merging any extension fields captured by a previous
// Unmarshal back into the wire object. Declared fields always win over
// extension fields of the same name.
func Marshal(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	extra := m.Base().Extra
	if len(extra) == 0 {
		return b, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := obj[k]; !ok {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}

// Unmarshal decodes data into m and stashes unrecognized fields in the
// Extra side channel so they survive the next Marshal.
func Unmarshal(data []byte, m Message) error {
	if err := json.Unmarshal(data, m); err != nil {
		return err
	}
	declared, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var declaredObj map[string]json.RawMessage
	if err := json.Unmarshal(declared, &declaredObj); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	for k, v := range obj {
		if _, ok := declaredObj[k]; ok {
			continue
		}
		if m.Base().Extra == nil {
			m.Base().Extra = map[string]json.RawMessage{}
		}
		m.Base().Extra[k] = v
	}
	return nil
}

// Clone returns a deep copy of m via a serialization round trip, so
// concurrent sends never share mutable state.
func Clone(m Message) (Message, error) {
	b, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	out := m.Empty()
	if err := Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// TerminalInfo describes one network endpoint. It is always copied through
// serialization, never shared by reference across the network boundary.
type TerminalInfo struct {
	IP           string            `json:"ip"`
	Port         int               `json:"port"`
	Protocol     string            `json:"protocol,omitempty"`
	Version      string            `json:"version,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (t *TerminalInfo) URL() string {
	proto := t.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, t.IP, t.Port)
}
