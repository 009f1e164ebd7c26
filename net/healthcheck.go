package net

import (
	"math"
	"time"
)

// Healthcheck defaults.
const (
	DefaultHealthCheckTimeout     = time.Second
	DefaultHealthCheckBackoff     = 1.5
	DefaultHealthCheckMaxAttempts = 5
)

// HealthCheck configures the liveness probe a transport runs while it is
// connected: RequestPattern is sent periodically and any message matching
// ResponsePattern proves the server alive. After k unanswered probes the
// next one waits Timeout * BackoffFactor^k; once MaxAttempts probes go
// unanswered the transport panics and disconnects.
type HealthCheck struct {
	RequestPattern  Pattern
	ResponsePattern Pattern
	// Active healthchecks start probing on Connect. Inactive ones wait for
	// ActivateHealthcheck, but their response pattern still brings the
	// transport online.
	Active        bool
	Timeout       time.Duration
	BackoffFactor float64
	MaxAttempts   int
}

// NewHealthCheck returns an active healthcheck with the default timing.
func NewHealthCheck(request, response Pattern) *HealthCheck {
	return &HealthCheck{
		RequestPattern:  request,
		ResponsePattern: response,
		Active:          true,
		Timeout:         DefaultHealthCheckTimeout,
		BackoffFactor:   DefaultHealthCheckBackoff,
		MaxAttempts:     DefaultHealthCheckMaxAttempts,
	}
}

// Delay returns how long to wait for a reply after k unanswered probes.
func (h *HealthCheck) Delay(k int) time.Duration {
	return time.Duration(float64(h.Timeout) * math.Pow(h.BackoffFactor, float64(k)))
}

func (h *HealthCheck) validate() error {
	if err := h.RequestPattern.validate(); err != nil {
		return err
	}
	return h.ResponsePattern.validate()
}
