package clawdockd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/openclaw/clawdock/internal/launcher"
	"github.com/openclaw/clawdock/internal/messages"
	"github.com/openclaw/clawdock/internal/telemetry/otel"
)

// acceptAfter bounds how long a command request blocks before the daemon
// answers 202 and lets the operation finish in the background. Fast
// failures, ErrBusy above all, still surface synchronously.
const acceptAfter = 250 * time.Millisecond

// dispatcher maps protocol actions onto launcher operations and records
// telemetry per command.
type dispatcher struct {
	launcher    *launcher.Launcher
	instruments *otel.CommandInstruments
}

func (d *dispatcher) run(ctx context.Context, action, origin string) error {
	handle, ctx := d.instruments.Start(ctx, otel.CommandInfo{Action: action, Origin: origin})

	var err error
	switch action {
	case messages.ActionStart:
		err = d.launcher.Start(ctx)
	case messages.ActionStop:
		err = d.launcher.StopContainer(ctx)
	case messages.ActionRestart:
		err = d.launcher.RestartContainer(ctx)
	case messages.ActionReset:
		err = d.launcher.ResetEverything(ctx)
	case messages.ActionReauth:
		err = d.launcher.ReAuthenticate(ctx)
	case messages.ActionBeginOAuth:
		// The URL lands in the state snapshot; command callers only need
		// success or failure.
		_, err = d.launcher.BeginOAuth()
	case messages.ActionSkipAuth:
		err = d.launcher.SkipAuth(ctx)
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	d.instruments.Finish(handle, err)
	return err
}

func (d *dispatcher) submitAuthCode(ctx context.Context, origin, code string) error {
	handle, ctx := d.instruments.Start(ctx, otel.CommandInfo{Action: "authCode", Origin: origin})
	err := d.launcher.SubmitAuthCode(ctx, code)
	d.instruments.Finish(handle, err)
	return err
}

func (d *dispatcher) submitAPIKey(ctx context.Context, origin, key string) error {
	handle, ctx := d.instruments.Start(ctx, otel.CommandInfo{Action: "authKey", Origin: origin})
	err := d.launcher.SubmitAPIKey(ctx, key)
	d.instruments.Finish(handle, err)
	return err
}

// commandAPI exposes launcher operations over local HTTP.
type commandAPI struct {
	// base outlives any single request. Lifecycle operations keep running
	// when the triggering client disconnects.
	base     context.Context
	dispatch *dispatcher
	launcher *launcher.Launcher
}

func newCommandAPI(base context.Context, l *launcher.Launcher, d *dispatcher) *commandAPI {
	return &commandAPI{base: base, dispatch: d, launcher: l}
}

func (a *commandAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/command", a.handleCommand)
	mux.HandleFunc("/api/auth/code", a.handleAuthCode)
	mux.HandleFunc("/api/auth/key", a.handleAuthKey)
}

func (a *commandAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, a.launcher.Snapshot())
}

func (a *commandAPI) handleCommand(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload messages.CommandPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Action == "" {
		writeError(w, http.StatusBadRequest, "action required")
		return
	}

	a.awaitOrAccept(w, func(ctx context.Context) error {
		return a.dispatch.run(ctx, payload.Action, "http")
	})
}

func (a *commandAPI) handleAuthCode(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload messages.AuthCodePayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Code == "" {
		writeError(w, http.StatusBadRequest, "code required")
		return
	}

	a.awaitOrAccept(w, func(ctx context.Context) error {
		return a.dispatch.submitAuthCode(ctx, "http", payload.Code)
	})
}

func (a *commandAPI) handleAuthKey(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload messages.AuthKeyPayload
	if !decodeBody(w, r, &payload) {
		return
	}
	if payload.Key == "" {
		writeError(w, http.StatusBadRequest, "key required")
		return
	}

	a.awaitOrAccept(w, func(ctx context.Context) error {
		return a.dispatch.submitAPIKey(ctx, "http", payload.Key)
	})
}

// awaitOrAccept runs op against the daemon's base context and waits briefly
// for the outcome. Slow operations answer 202 and continue in the
// background; subsequent progress is visible through state snapshots.
func (a *commandAPI) awaitOrAccept(w http.ResponseWriter, op func(context.Context) error) {
	result := make(chan error, 1)
	go func() {
		result <- op(a.base)
	}()

	timer := time.NewTimer(acceptAfter)
	defer timer.Stop()

	select {
	case err := <-result:
		switch {
		case errors.Is(err, launcher.ErrBusy):
			writeError(w, http.StatusConflict, err.Error())
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		}
	case <-timer.C:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// setCORS allows browser pages served from other local origins, the Vite
// dev server during UI work in particular, to call the API.
func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
