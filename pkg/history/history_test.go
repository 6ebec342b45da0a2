package history

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterSendsFixedLayoutRecord(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	e, err := New(conn.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer e.Close()

	e.LogDeviceInput(42, 0, 1)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 64)
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	assert.Equal(t, uint32(EventDeviceInput), binary.LittleEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[8:12]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(buf[12:16]))
}

func TestEmitterDropsIncomingOnOverflow(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	defer conn.Close()

	e, err := New(conn.LocalAddr().String(), nil)
	require.NoError(t, err)
	defer e.Close()

	e.softCap = 2
	e.mu.Lock()
	e.queue = append(e.queue, record{Type: uint32(EventDeviceInput), ID: 1})
	e.queue = append(e.queue, record{Type: uint32(EventDeviceInput), ID: 2})
	e.mu.Unlock()

	queued := e.Log(EventDeviceInput, 3, 0, 0, 0)
	assert.False(t, queued, "Log must report the incoming record was dropped")

	e.mu.Lock()
	defer e.mu.Unlock()
	require.Len(t, e.queue, 2)
	assert.EqualValues(t, 1, e.queue[0].ID, "already-queued records must survive overflow")
	assert.EqualValues(t, 2, e.queue[1].ID, "already-queued records must survive overflow")
}
