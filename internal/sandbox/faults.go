// internal/sandbox/faults.go
package sandbox

import (
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"
)

type FaultType string

const (
	// FaultLatency delays the request before it is served.
	FaultLatency FaultType = "latency"
	// FaultFailure answers the request with an error status instead of serving it.
	FaultFailure FaultType = "failure"
)

// Fault is a misbehaviour injected into a share of the sandbox's requests.
type Fault struct {
	Type    FaultType
	Latency time.Duration
	// Status is the failure status; zero means 503.
	Status int
	// BlastRadius is the share of requests affected, from 0.0 to 1.0.
	BlastRadius float64
}

// injector applies faults in order. A request hit by a failure is not served.
type injector struct {
	faults []Fault
	logger *slog.Logger
	mu     sync.Mutex
	rnd    *rand.Rand
}

func newInjector(faults []Fault, seed uint64) *injector {
	return &injector{
		faults: faults,
		logger: slog.New(slog.DiscardHandler),
		rnd:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (in *injector) hit(radius float64) bool {
	if radius <= 0 {
		return false
	}
	if radius >= 1 {
		return true
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.rnd.Float64() < radius
}

func (in *injector) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, f := range in.faults {
			if !in.hit(f.BlastRadius) {
				continue
			}
			in.logger.WarnContext(r.Context(), "fault injected",
				"type", f.Type,
				"method", r.Method,
				"path", r.URL.Path,
			)
			switch f.Type {
			case FaultLatency:
				timer := time.NewTimer(f.Latency)
				select {
				case <-timer.C:
				case <-r.Context().Done():
					timer.Stop()
					return
				}
			case FaultFailure:
				status := f.Status
				if status == 0 {
					status = http.StatusServiceUnavailable
				}
				writeJSON(w, status, errorBody{Message: "injected failure"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
