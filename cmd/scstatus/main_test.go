package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	f, err := parseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", f.host)
	assert.Equal(t, 57110, f.port)
	assert.Equal(t, time.Second, f.timeout)
	assert.Zero(t, f.watch)

	f, err = parseFlags([]string{"-H", "10.0.0.2", "--port", "57120", "-w", "2s", "--metrics-addr", ":9100"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", f.host)
	assert.Equal(t, 57120, f.port)
	assert.Equal(t, 2*time.Second, f.watch)
	assert.Equal(t, ":9100", f.metricsAddr)

	_, err = parseFlags([]string{"--port", "0"})
	assert.Error(t, err)
	_, err = parseFlags([]string{"--bogus"})
	assert.Error(t, err)
}
