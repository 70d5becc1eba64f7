package cstream

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadLineTrimsCRLF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	go func() {
		_, _ = client.Write([]byte("hello\r\n"))
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "hello", line)
}

func TestWriteFlushDelivers(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.Write([]byte("payload"))
		require.NoError(t, err)
		require.NoError(t, c.Flush())
	}()

	buf := make([]byte, len("payload"))
	_, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf))
	<-done
}

func TestCancelUnblocksReadFromAnotherGoroutine(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := New(server)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ReadLine()
		errCh <- err
	}()

	// Give the reader a moment to park in ReadLine before cancelling.
	time.Sleep(10 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadLine did not unblock after Cancel")
	}
	require.True(t, c.Cancelled())
}

func TestCancelIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := New(server)
	c.Cancel()
	c.Cancel() // must not panic on double-close
	require.True(t, c.Cancelled())
}
