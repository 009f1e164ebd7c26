package utils

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFreePort(t *testing.T) {
	port, err := FindFreePort()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	assert.NoError(t, conn.Close())
}

func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator(1000)
	assert.Equal(t, int32(1000), a.Peek())
	assert.Equal(t, int32(1000), a.NextID())
	assert.Equal(t, int32(1001), a.NextID())
	assert.Equal(t, int32(1002), a.Peek())

	var zero IDAllocator
	assert.Equal(t, int32(0), zero.NextID())
}

func TestIDAllocatorConcurrent(t *testing.T) {
	a := NewIDAllocator(0)
	var mu sync.Mutex
	seen := make(map[int32]struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := a.NextID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 800)
	assert.Equal(t, int32(800), a.Peek())
}
