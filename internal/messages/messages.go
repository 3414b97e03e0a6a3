// Package messages defines the wire protocol between the launcher daemon
// and its clients. Every frame is a versioned envelope; the payload decodes
// into a concrete struct selected by Type.
package messages

import "encoding/json"

// ProtocolVersion is stamped on every envelope this build emits.
const ProtocolVersion = 1

// Type names for message envelopes.
const (
	TypeClientHello   = "client.hello"
	TypeStateSnapshot = "state.snapshot"
	TypeStateStep     = "state.step"
	TypeCommand       = "command"
	TypeAuthCode      = "auth.code"
	TypeAuthKey       = "auth.key"
	TypeAck           = "ack"
)

// Command actions accepted over the wire.
const (
	ActionStart      = "start"
	ActionStop       = "stop"
	ActionRestart    = "restart"
	ActionReset      = "reset"
	ActionReauth     = "reauth"
	ActionBeginOAuth = "beginOAuth"
	ActionSkipAuth   = "skipAuth"
)

// Ack status values.
const (
	AckOK    = "ok"
	AckError = "error"
)

// Envelope is a versioned, self-describing message wrapper. Payload must be
// decoded into a concrete payload struct based on Type.
type Envelope struct {
	Type      string          `json:"type"`
	Version   int             `json:"version"`
	ClientID  string          `json:"client_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ClientHelloPayload identifies a client and its advertised capabilities.
type ClientHelloPayload struct {
	Platform     string   `json:"platform"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CommandPayload (client -> daemon) requests a lifecycle operation.
type CommandPayload struct {
	Action string `json:"action"`
}

// AuthCodePayload (client -> daemon) submits a pasted authorization code.
type AuthCodePayload struct {
	Code string `json:"code"`
}

// AuthKeyPayload (client -> daemon) submits a raw API key.
type AuthKeyPayload struct {
	Key string `json:"key"`
}

// AckPayload (daemon -> client) reports the outcome of a client request.
type AckPayload struct {
	Cmd     string `json:"cmd"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Wrap marshals a payload into an envelope.
func Wrap(typ string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type:    typ,
		Version: ProtocolVersion,
		Payload: raw,
	}, nil
}

// WrapForRequest marshals a payload into an envelope answering a specific
// client request.
func WrapForRequest(typ, clientID, requestID string, payload any) (*Envelope, error) {
	env, err := Wrap(typ, payload)
	if err != nil {
		return nil, err
	}
	env.ClientID = clientID
	env.RequestID = requestID
	return env, nil
}

// UnmarshalPayload decodes the envelope payload into the provided destination.
func UnmarshalPayload[T any](env *Envelope, dst *T) error {
	return json.Unmarshal(env.Payload, dst)
}
