// Package stats aggregates per-command request outcomes for the lifetime of
// the process. Counters are in-memory only and reset on restart; they are
// additionally mirrored into Prometheus for the /metrics endpoint.
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Aggregator struct {
	mu       sync.Mutex
	start    time.Time
	total    uint64
	success  uint64
	failure  uint64
	users    map[int64]struct{}
	commands map[string]uint64

	requests *prometheus.CounterVec
}

// New creates an aggregator. reg may be nil to skip Prometheus registration
// (tests).
func New(reg prometheus.Registerer) *Aggregator {
	a := &Aggregator{
		start:    time.Now(),
		users:    make(map[int64]struct{}),
		commands: make(map[string]uint64),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grabbot",
			Name:      "requests_total",
			Help:      "Download requests by command and outcome.",
		}, []string{"command", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(a.requests)
	}
	return a
}

// Record notes one finished command invocation. Safe for concurrent use.
func (a *Aggregator) Record(userID int64, command string, ok bool) {
	a.mu.Lock()
	a.total++
	if ok {
		a.success++
	} else {
		a.failure++
	}
	a.users[userID] = struct{}{}
	a.commands[command]++
	a.mu.Unlock()

	outcome := "failure"
	if ok {
		outcome = "success"
	}
	a.requests.WithLabelValues(command, outcome).Inc()
}

// Snapshot is a consistent read of the aggregate counters.
type Snapshot struct {
	StartTime   time.Time
	Uptime      time.Duration
	Users       int
	Total       uint64
	Success     uint64
	Failure     uint64
	SuccessRate float64 // percent
	Commands    map[string]uint64
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	cmds := make(map[string]uint64, len(a.commands))
	for k, v := range a.commands {
		cmds[k] = v
	}
	total := a.total
	if total == 0 {
		total = 1
	}
	return Snapshot{
		StartTime:   a.start,
		Uptime:      time.Since(a.start),
		Users:       len(a.users),
		Total:       a.total,
		Success:     a.success,
		Failure:     a.failure,
		SuccessRate: float64(a.success) / float64(total) * 100,
		Commands:    cmds,
	}
}

// TopCommands returns up to n (command, count) pairs, most used first.
func (s Snapshot) TopCommands(n int) []CommandCount {
	out := make([]CommandCount, 0, len(s.Commands))
	for k, v := range s.Commands {
		out = append(out, CommandCount{Name: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

type CommandCount struct {
	Name  string
	Count uint64
}
