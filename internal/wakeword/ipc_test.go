package wakeword

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hammamikhairi/avsclient/internal/domain"
	"github.com/hammamikhairi/avsclient/internal/logger"
)

type detectSignal chan struct{}

func (d detectSignal) OnWakeWordDetected() { d <- struct{}{} }

func writeCmd(t *testing.T, conn net.Conn, cmd domain.WakeWordCommand) {
	t.Helper()
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(cmd))
	_, err := conn.Write(buf[:])
	require.NoError(t, err)
}

func TestClientExchangesCommands(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c := NewClient(ln.Addr().String(), logger.New(logger.LevelOff, nil))
	detected := make(detectSignal, 1)
	c.SetDetectedHandler(detected)

	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	var server net.Conn
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never saw the connection")
	}
	defer server.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	// Client -> engine.
	require.NoError(t, c.SendCommand(ctx, domain.WakeWordPause))
	var buf [4]byte
	_, err = io.ReadFull(server, buf[:])
	require.NoError(t, err)
	assert.Equal(t, uint32(domain.WakeWordPause), binary.BigEndian.Uint32(buf[:]))

	// Engine -> client.
	writeCmd(t, server, domain.WakeWordConfirm)
	writeCmd(t, server, domain.WakeWordDetected)
	select {
	case <-detected:
	case <-time.After(2 * time.Second):
		t.Fatal("detection never delivered")
	}

	writeCmd(t, server, domain.WakeWordDisconnect)
	select {
	case err := <-runErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after DISCONNECT")
	}

	assert.ErrorIs(t, c.SendCommand(ctx, domain.WakeWordResume), domain.ErrNotConnected)
}

func TestSendWithoutConnection(t *testing.T) {
	c := NewClient("127.0.0.1:1", logger.New(logger.LevelOff, nil))
	assert.ErrorIs(t, c.SendCommand(context.Background(), domain.WakeWordPause), domain.ErrNotConnected)
	assert.ErrorIs(t, c.Run(context.Background()), domain.ErrNotConnected)
}
