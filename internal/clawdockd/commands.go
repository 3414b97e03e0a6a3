package clawdockd

import (
	"context"
	"encoding/json"

	"github.com/openclaw/clawdock/internal/messages"
	"github.com/openclaw/clawdock/internal/websocket"
)

// consumeCommands drains inbound websocket frames for the daemon's
// lifetime. Commands run in their own goroutines so a long pull never
// blocks the next frame.
func (rt *runtimeState) consumeCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-rt.hub.Incoming():
			rt.handleClientMessage(ctx, msg)
		}
	}
}

func (rt *runtimeState) handleClientMessage(ctx context.Context, msg websocket.ClientMessage) {
	var env messages.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		rt.ackClient(msg.ClientID, "", "", "malformed message")
		return
	}

	switch env.Type {
	case messages.TypeClientHello:
		var hello messages.ClientHelloPayload
		if err := messages.UnmarshalPayload(&env, &hello); err != nil {
			rt.ackClient(msg.ClientID, env.RequestID, "", "malformed hello")
			return
		}
		logEvent("client_hello", map[string]any{
			"client":   msg.ClientID,
			"platform": hello.Platform,
			"version":  hello.Version,
		})
	case messages.TypeCommand:
		var cmd messages.CommandPayload
		if err := messages.UnmarshalPayload(&env, &cmd); err != nil || cmd.Action == "" {
			rt.ackClient(msg.ClientID, env.RequestID, "", "malformed command")
			return
		}
		go func() {
			err := rt.dispatch.run(ctx, cmd.Action, "websocket")
			rt.ackResult(msg.ClientID, env.RequestID, cmd.Action, err)
		}()
	case messages.TypeAuthCode:
		var auth messages.AuthCodePayload
		if err := messages.UnmarshalPayload(&env, &auth); err != nil || auth.Code == "" {
			rt.ackClient(msg.ClientID, env.RequestID, "", "malformed auth code")
			return
		}
		go func() {
			err := rt.dispatch.submitAuthCode(ctx, "websocket", auth.Code)
			rt.ackResult(msg.ClientID, env.RequestID, "authCode", err)
		}()
	case messages.TypeAuthKey:
		var auth messages.AuthKeyPayload
		if err := messages.UnmarshalPayload(&env, &auth); err != nil || auth.Key == "" {
			rt.ackClient(msg.ClientID, env.RequestID, "", "malformed auth key")
			return
		}
		go func() {
			err := rt.dispatch.submitAPIKey(ctx, "websocket", auth.Key)
			rt.ackResult(msg.ClientID, env.RequestID, "authKey", err)
		}()
	default:
		rt.ackClient(msg.ClientID, env.RequestID, "", "unsupported message type "+env.Type)
	}
}

func (rt *runtimeState) ackResult(clientID, requestID, cmd string, err error) {
	if err != nil {
		rt.ackClient(clientID, requestID, cmd, err.Error())
		return
	}
	rt.sendAck(clientID, requestID, messages.AckPayload{Cmd: cmd, Status: messages.AckOK})
}

func (rt *runtimeState) ackClient(clientID, requestID, cmd, errMessage string) {
	rt.sendAck(clientID, requestID, messages.AckPayload{
		Cmd:     cmd,
		Status:  messages.AckError,
		Message: errMessage,
	})
}

func (rt *runtimeState) sendAck(clientID, requestID string, payload messages.AckPayload) {
	env, err := messages.WrapForRequest(messages.TypeAck, clientID, requestID, payload)
	if err != nil {
		return
	}
	// A failed send means the client already disconnected.
	_ = rt.hub.SendJSONToClient(clientID, env)
}
