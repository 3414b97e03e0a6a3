package launcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the launcher's lifecycle state. Exactly one holds at a time and
// it is the single source of truth for which operations are legal.
type Status string

const (
	StatusIdle                Status = "idle"
	StatusWorking             Status = "working"
	StatusNeedsAuth           Status = "needsAuth"
	StatusWaitingForAuthInput Status = "waitingForAuthInput"
	StatusRunning             Status = "running"
	StatusStopped             Status = "stopped"
	StatusError               Status = "error"
)

// StepStatus classifies one entry in the launch audit trail.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepDone    StepStatus = "done"
	StepError   StepStatus = "error"
	StepWarning StepStatus = "warning"
)

// Step is one write-once record. Progress is expressed by appending further
// records, never by mutating old ones.
type Step struct {
	ID      string     `json:"id"`
	Status  StepStatus `json:"status"`
	Message string     `json:"message"`
	At      time.Time  `json:"at"`
}

// maxSteps caps the step log; older entries are evicted beyond it.
const maxSteps = 50

// Health is the supervisor's latest verdict. Transient, never persisted.
type Health struct {
	Healthy             bool `json:"healthy"`
	ConsecutiveFailures int  `json:"consecutiveFailures"`
}

// Snapshot is a consistent copy of everything observable about the launcher.
type Snapshot struct {
	Status        Status    `json:"status"`
	Steps         []Step    `json:"steps"`
	Health        Health    `json:"health"`
	Port          int       `json:"port"`
	GatewayURL    string    `json:"gatewayUrl,omitempty"`
	AuthURL       string    `json:"authUrl,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
	UptimeSeconds int       `json:"uptimeSeconds"`
	LastError     string    `json:"lastError,omitempty"`
}

// stateStore serializes every mutation of observable launcher state and fans
// a fresh snapshot out to subscribers after each one.
type stateStore struct {
	mu          sync.Mutex
	status      Status
	steps       []Step
	health      Health
	port        int
	gatewayURL  string
	authURL     string
	startedAt   time.Time
	uptime      int
	lastError   string
	subscribers map[int]chan Snapshot
	nextSubID   int
}

func newStateStore() *stateStore {
	return &stateStore{
		status:      StatusIdle,
		subscribers: make(map[int]chan Snapshot),
	}
}

// Snapshot returns a copy of the current state.
func (s *stateStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *stateStore) snapshotLocked() Snapshot {
	steps := make([]Step, len(s.steps))
	copy(steps, s.steps)
	return Snapshot{
		Status:        s.status,
		Steps:         steps,
		Health:        s.health,
		Port:          s.port,
		GatewayURL:    s.gatewayURL,
		AuthURL:       s.authURL,
		StartedAt:     s.startedAt,
		UptimeSeconds: s.uptime,
		LastError:     s.lastError,
	}
}

// Status returns the current lifecycle state.
func (s *stateStore) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Subscribe registers a snapshot feed. The channel always carries the latest
// snapshot; a slow consumer loses intermediate ones, never the newest. The
// returned cancel func must be called to release the subscription.
func (s *stateStore) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Snapshot, 8)
	s.subscribers[id] = ch
	snap := s.snapshotLocked()
	s.mu.Unlock()

	ch <- snap

	cancel := func() {
		s.mu.Lock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

func (s *stateStore) publishLocked() {
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			// Full buffer: drop the oldest so the newest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *stateStore) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.publishLocked()
	s.mu.Unlock()
}

// beginAttempt clears the previous attempt's trail and enters working.
func (s *stateStore) beginAttempt() {
	s.mu.Lock()
	s.steps = nil
	s.status = StatusWorking
	s.lastError = ""
	s.authURL = ""
	s.publishLocked()
	s.mu.Unlock()
}

func (s *stateStore) addStep(status StepStatus, message string) {
	s.mu.Lock()
	s.steps = append(s.steps, Step{
		ID:      uuid.NewString(),
		Status:  status,
		Message: message,
		At:      time.Now(),
	})
	if len(s.steps) > maxSteps {
		s.steps = s.steps[len(s.steps)-maxSteps:]
	}
	s.publishLocked()
	s.mu.Unlock()
}

// fail records a terminal error: state error, message in the trail.
func (s *stateStore) fail(message string) {
	s.mu.Lock()
	s.steps = append(s.steps, Step{
		ID:      uuid.NewString(),
		Status:  StepError,
		Message: message,
		At:      time.Now(),
	})
	if len(s.steps) > maxSteps {
		s.steps = s.steps[len(s.steps)-maxSteps:]
	}
	s.status = StatusError
	s.lastError = message
	s.publishLocked()
	s.mu.Unlock()
}

func (s *stateStore) setAuthURL(url string) {
	s.mu.Lock()
	s.authURL = url
	s.publishLocked()
	s.mu.Unlock()
}

func (s *stateStore) setRunning(port int, gatewayURL string) {
	s.mu.Lock()
	s.status = StatusRunning
	s.port = port
	s.gatewayURL = gatewayURL
	s.startedAt = time.Now()
	s.uptime = 0
	s.health = Health{Healthy: true}
	s.lastError = ""
	s.publishLocked()
	s.mu.Unlock()
}

func (s *stateStore) setPort(port int) {
	s.mu.Lock()
	s.port = port
	s.publishLocked()
	s.mu.Unlock()
}

// setStopped clears the step trail and the uptime baseline so the next
// start attempt begins from a blank slate.
func (s *stateStore) setStopped() {
	s.mu.Lock()
	s.status = StatusStopped
	s.steps = nil
	s.startedAt = time.Time{}
	s.uptime = 0
	s.health = Health{}
	s.publishLocked()
	s.mu.Unlock()
}

// resetAll clears every observable field and parks the store in stopped.
func (s *stateStore) resetAll() {
	s.mu.Lock()
	s.status = StatusStopped
	s.steps = nil
	s.health = Health{}
	s.port = 0
	s.gatewayURL = ""
	s.authURL = ""
	s.startedAt = time.Time{}
	s.uptime = 0
	s.lastError = ""
	s.publishLocked()
	s.mu.Unlock()
}

func (s *stateStore) setHealthy() {
	s.mu.Lock()
	s.health = Health{Healthy: true, ConsecutiveFailures: 0}
	s.publishLocked()
	s.mu.Unlock()
}

// recordHealthFailure increments the failure streak and returns the new
// snapshot value.
func (s *stateStore) recordHealthFailure() Health {
	s.mu.Lock()
	s.health.Healthy = false
	s.health.ConsecutiveFailures++
	h := s.health
	s.publishLocked()
	s.mu.Unlock()
	return h
}

// tickUptime recomputes the derived uptime display value.
func (s *stateStore) tickUptime() {
	s.mu.Lock()
	if s.status == StatusRunning && !s.startedAt.IsZero() {
		s.uptime = int(time.Since(s.startedAt) / time.Second)
		s.publishLocked()
	}
	s.mu.Unlock()
}
