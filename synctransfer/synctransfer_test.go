package synctransfer

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	id       string
	writeErr error
	flushErr error
	wrote    []byte
	flushed  bool
}

func (f *fakeTarget) ID() string { return f.id }

func (f *fakeTarget) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.wrote = append(f.wrote, p...)
	return len(p), nil
}

func (f *fakeTarget) Flush() error {
	f.flushed = true
	return f.flushErr
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "i/o timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

func TestClassifyNilIsOK(t *testing.T) {
	require.Equal(t, OutcomeOK, Classify(nil))
}

func TestClassifyBrokenPipeIsRemove(t *testing.T) {
	require.Equal(t, OutcomeRemove, Classify(syscall.EPIPE))
	require.Equal(t, OutcomeRemove, Classify(syscall.ECONNRESET))
	require.Equal(t, OutcomeRemove, Classify(io.ErrClosedPipe))
	require.Equal(t, OutcomeRemove, Classify(net.ErrClosed))
}

func TestClassifyWrappedSentinelIsRemove(t *testing.T) {
	wrapped := fmtErrorf(syscall.EPIPE)
	require.Equal(t, OutcomeRemove, Classify(wrapped))
}

func TestClassifyTimeoutNetErrorIsKeep(t *testing.T) {
	require.Equal(t, OutcomeKeep, Classify(fakeTimeoutErr{}))
}

func TestClassifyGenericErrorIsKeep(t *testing.T) {
	require.Equal(t, OutcomeKeep, Classify(errors.New("something else")))
}

func TestWriteAllBlockingReportsPerTargetOutcome(t *testing.T) {
	ok := &fakeTarget{id: "ok"}
	gone := &fakeTarget{id: "gone", writeErr: syscall.EPIPE}
	flaky := &fakeTarget{id: "flaky", writeErr: errors.New("transient")}

	results := WriteAllBlocking([]Target{ok, gone, flaky}, []byte("payload"), nil)
	require.Len(t, results, 3)

	byID := make(map[string]Result, 3)
	for _, r := range results {
		byID[r.Target.ID()] = r
	}

	require.Equal(t, OutcomeOK, byID["ok"].Outcome)
	require.Equal(t, OutcomeRemove, byID["gone"].Outcome)
	require.Equal(t, OutcomeKeep, byID["flaky"].Outcome)

	require.Equal(t, "payload", string(ok.wrote))
	require.True(t, ok.flushed)
	require.False(t, gone.flushed) // Write failed, Flush never reached
}

func fmtErrorf(err error) error {
	return &wrapErr{err}
}

type wrapErr struct{ inner error }

func (w *wrapErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrapErr) Unwrap() error { return w.inner }
