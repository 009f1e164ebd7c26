package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewHealthCheckDefaults(t *testing.T) {
	hc := NewHealthCheck(MustPattern("/status"), MustPattern("/status.reply"))
	assert.True(t, hc.Active)
	assert.Equal(t, time.Second, hc.Timeout)
	assert.Equal(t, 1.5, hc.BackoffFactor)
	assert.Equal(t, 5, hc.MaxAttempts)
	assert.NoError(t, hc.validate())
}

func TestHealthCheckDelay(t *testing.T) {
	hc := NewHealthCheck(MustPattern("/status"), MustPattern("/status.reply"))
	assert.Equal(t, time.Second, hc.Delay(0))
	assert.Equal(t, 1500*time.Millisecond, hc.Delay(1))
	assert.Equal(t, 2250*time.Millisecond, hc.Delay(2))

	hc.Timeout = 100 * time.Millisecond
	hc.BackoffFactor = 2
	assert.Equal(t, 800*time.Millisecond, hc.Delay(3))
}

func TestHealthCheckValidate(t *testing.T) {
	hc := &HealthCheck{RequestPattern: MustPattern("/status")}
	assert.ErrorIs(t, hc.validate(), ErrInvalidPattern)

	hc = &HealthCheck{ResponsePattern: MustPattern("/status.reply")}
	assert.ErrorIs(t, hc.validate(), ErrInvalidPattern)
}
