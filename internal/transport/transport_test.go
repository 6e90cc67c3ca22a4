package transport

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	a, err := New(0, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := New(0, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return a, b
}

func TestSendReceive(t *testing.T) {
	a, b := newPair(t)

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalAddr().Port}
	require.NoError(t, a.Send([]byte("hello"), dst))

	buf := make([]byte, 64)
	var n int
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, _, err = b.Receive(buf)
		if err == nil {
			break
		}
		require.ErrorIs(t, err, ErrWouldBlock)
	}
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReceiveWouldBlock(t *testing.T) {
	a, _ := newPair(t)

	buf := make([]byte, 64)
	_, _, err := a.Receive(buf)
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestBindFailure(t *testing.T) {
	a, err := New(0, 50*time.Millisecond, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	_, err = New(a.LocalAddr().Port, 50*time.Millisecond, zerolog.Nop())
	assert.Error(t, err)
}

func TestBroadcastAddrs(t *testing.T) {
	addrs := BroadcastAddrs(56700)
	require.NotEmpty(t, addrs)
	for _, a := range addrs {
		assert.Equal(t, 56700, a.Port)
		assert.NotNil(t, a.IP.To4())
	}
}
