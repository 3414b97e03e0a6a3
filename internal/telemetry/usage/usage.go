// Package usage emits anonymous product usage events for the launcher.
// Events carry an event name plus coarse metadata (OS, architecture,
// version); nothing user-identifying leaves the machine. Delivery is best
// effort: a full queue drops events and a dead endpoint never blocks the
// launcher.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultEndpoint  = "https://telemetry.openclaw.dev/v1/events"
	appName          = "clawdock"
	httpTimeout      = 2 * time.Second
	maxAttempts      = 2
	baseBackoff      = 500 * time.Millisecond
	backoffJitterCap = 500 * time.Millisecond
	queueSize        = 20
	closeWait        = 3 * time.Second
)

// Config tunes a Reporter. Zero values select production defaults.
type Config struct {
	Version    string
	Endpoint   string
	HTTPClient *http.Client
}

// Reporter queues events and posts them from a single background sender.
type Reporter struct {
	disabled   bool
	endpoint   string
	version    string
	httpClient *http.Client

	sendOnce     sync.Once
	shutdownOnce sync.Once
	events       chan eventPayload
	senderDone   chan struct{}
}

// NewReporter builds a Reporter. CLAWDOCK_DISABLE_TELEMETRY or the
// conventional DO_NOT_TRACK, set to any non-blank value, disables it
// entirely.
func NewReporter(cfg Config) *Reporter {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpTimeout}
	}
	return &Reporter{
		disabled:   telemetryDisabled(),
		endpoint:   endpoint,
		version:    sanitizeVersion(cfg.Version),
		httpClient: httpClient,
		events:     make(chan eventPayload, queueSize),
		senderDone: make(chan struct{}),
	}
}

// Event enqueues one usage event. It never blocks; under backpressure the
// event is dropped.
func (r *Reporter) Event(name string, meta map[string]string) {
	if r == nil || r.disabled {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	r.sendOnce.Do(func() { go r.sender() })

	select {
	case r.events <- eventPayload{
		Event: name,
		Time:  time.Now().UnixMilli(),
		Meta:  cloneMeta(meta),
	}:
	default:
	}
}

// Close stops accepting events and waits briefly for the queue to drain.
func (r *Reporter) Close() {
	if r == nil || r.disabled {
		return
	}
	r.shutdownOnce.Do(func() {
		r.sendOnce.Do(func() { go r.sender() })
		close(r.events)
		select {
		case <-r.senderDone:
		case <-time.After(closeWait):
		}
	})
}

func (r *Reporter) sender() {
	defer close(r.senderDone)
	for event := range r.events {
		// Persistent failures drop the event; usage data is never worth a
		// stalled queue.
		_ = r.send(context.Background(), event)
	}
}

func (r *Reporter) send(ctx context.Context, event eventPayload) error {
	payload := requestPayload{
		Events: []eventPayload{event},
		Client: clientMetadata{
			App:     appName,
			Version: r.version,
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
		},
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(data))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := r.httpClient.Do(req)
		if doErr == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
		}
		if !shouldRetry(doErr, resp) {
			if doErr != nil {
				return doErr
			}
			return errors.New(resp.Status)
		}

		backoff := baseBackoff + time.Duration(randN(int64(backoffJitterCap)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil
}

func shouldRetry(err error, resp *http.Response) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return resp.StatusCode >= 500 && resp.StatusCode <= 599
}

func telemetryDisabled() bool {
	for _, key := range []string{"CLAWDOCK_DISABLE_TELEMETRY", "DO_NOT_TRACK"} {
		if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}

func sanitizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "dev"
	}
	return v
}

func cloneMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

type eventPayload struct {
	Event string            `json:"event"`
	Time  int64             `json:"time"`
	Meta  map[string]string `json:"meta,omitempty"`
}

type clientMetadata struct {
	App     string `json:"app"`
	Version string `json:"version"`
	OS      string `json:"os"`
	Arch    string `json:"arch"`
}

type requestPayload struct {
	Events []eventPayload `json:"events"`
	Client clientMetadata `json:"client"`
}

var randSource atomic.Uint64

func randN(limit int64) int64 {
	if limit <= 0 {
		return 0
	}
	next := randSource.Add(1)
	return int64(next % uint64(limit))
}
