package bus

import (
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/zoff-tech/go-notifier/schema"
)

const (
	DefaultSuccessRate = 0.9

	minLatencyMs = 40
	maxLatencyMs = 400
)

// Outcome is the synthetic result of notifying one webhook.
type Outcome struct {
	Status       schema.Status
	LatencyMs    int
	ResponseCode int
}

// Simulator draws delivery outcomes. Webhook URLs are never dialed.
type Simulator struct {
	mu          sync.Mutex
	rng         *rand.Rand
	successRate float64
}

// NewSimulator returns a simulator succeeding with probability successRate.
// A nil src seeds from the current time.
func NewSimulator(successRate float64, src rand.Source) *Simulator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Simulator{
		rng:         rand.New(src),
		successRate: successRate,
	}
}

func (s *Simulator) Next() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	latency := minLatencyMs + s.rng.Intn(maxLatencyMs-minLatencyMs+1)
	if s.rng.Float64() < s.successRate {
		return Outcome{Status: schema.StatusOK, LatencyMs: latency, ResponseCode: http.StatusOK}
	}
	return Outcome{Status: schema.StatusFailed, LatencyMs: latency, ResponseCode: http.StatusInternalServerError}
}
