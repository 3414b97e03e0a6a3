package launcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// repeatingTask runs fn on a fixed interval until stopped. Stop is
// idempotent and joins the goroutine.
type repeatingTask struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startRepeating(interval time.Duration, fn func()) *repeatingTask {
	t := &repeatingTask{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return t
}

func (t *repeatingTask) Stop() {
	t.once.Do(func() { close(t.stop) })
	<-t.done
}

// startSupervision launches the health and uptime tickers. Safe to call when
// they are already running.
func (l *Launcher) startSupervision() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.health == nil {
		l.health = startRepeating(l.t.healthInterval, l.checkHealth)
	}
	if l.uptime == nil {
		l.uptime = startRepeating(l.t.uptimeInterval, l.store.tickUptime)
	}
}

// Close stops background supervision. The container keeps running; only
// this process stops watching it.
func (l *Launcher) Close() {
	l.stopSupervision()
}

// stopSupervision cancels both tickers and waits for them to finish.
func (l *Launcher) stopSupervision() {
	l.mu.Lock()
	health, uptime := l.health, l.uptime
	l.health, l.uptime = nil, nil
	l.mu.Unlock()
	if health != nil {
		health.Stop()
	}
	if uptime != nil {
		uptime.Stop()
	}
}

// checkHealth runs one supervision round. A probe failure alone never flips
// the state; only the engine confirming the container is gone does, and only
// after a streak of failures.
func (l *Launcher) checkHealth() {
	if l.store.Status() != StatusRunning {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.t.healthTimeout)
	defer cancel()

	_, port := l.boot()
	if l.probeGateway(ctx, port) {
		l.store.setHealthy()
		return
	}
	h := l.store.recordHealthFailure()
	if h.ConsecutiveFailures < healthFailureThreshold {
		return
	}

	client, err := l.engineClient()
	if err != nil {
		return
	}
	running, err := client.ContainerRunning(ctx, l.containerName())
	if err != nil || running {
		// Engine unreachable or container alive: treat it as a slow
		// gateway and keep the running state.
		return
	}
	l.store.fail("gateway container stopped unexpectedly")
	l.usageEvent("launcher_error", map[string]string{"reason": "container_gone"})
	l.logf("event=health_container_gone failures=%d", h.ConsecutiveFailures)
	// Stop joins the task goroutine, so tear down from outside it.
	go l.stopSupervision()
}

// probeGateway counts any HTTP response as alive; an auth challenge still
// proves the process is serving.
func (l *Launcher) probeGateway(ctx context.Context, port int) bool {
	if port == 0 {
		return false
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := l.httpc.Do(req)
	if err != nil {
		return false
	}
	_, _ = io.CopyN(io.Discard, resp.Body, 4096)
	resp.Body.Close()
	return true
}

// waitForGateway polls readiness after container start. Running out of
// attempts is a warning for the caller, not a failure.
func (l *Launcher) waitForGateway(ctx context.Context, port int) bool {
	for attempt := 0; attempt < l.t.readyAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(l.t.readyDelay):
			}
		}
		probeCtx, cancel := context.WithTimeout(ctx, l.t.healthTimeout)
		ok := l.probeGateway(probeCtx, port)
		cancel()
		if ok {
			return true
		}
	}
	return false
}
