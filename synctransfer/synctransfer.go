// Package synctransfer implements a blocking fan-out write that sends one
// value to every given target synchronously. No other package in this
// module calls it; the session pump and the server's shutdown sequence
// write to connections directly. Adapted
// from the teacher's writer.routine's "write, classify the error,
// onConnectionClose(err)" shape in connection/writer.go, generalized from
// one connection's encode-then-write loop to many connections written
// concurrently.
package synctransfer

import (
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Target is anything synctransfer can write to and identify for logging
// and removal.
type Target interface {
	ID() string
	Write(p []byte) (int, error)
	Flush() error
}

// Outcome classifies what should happen to a target after its write.
type Outcome int

const (
	// OutcomeOK means the write succeeded.
	OutcomeOK Outcome = iota
	// OutcomeRemove means the target's connection is gone (broken pipe,
	// reset, or otherwise closed) and should be dropped from whatever
	// in-flight table the caller maintains.
	OutcomeRemove
	// OutcomeKeep means the write failed with a transient or
	// caller-initiated condition (e.g. an aborted deadline) that does not
	// imply the peer is gone; the caller should log it but keep the
	// target registered.
	OutcomeKeep
)

// Result pairs a target's outcome with the error observed, if any.
type Result struct {
	Target  Target
	Outcome Outcome
	Err     error
}

// WriteAllBlocking writes payload to every target concurrently and blocks
// until all writes (and flushes) complete, classifying each failure per
// Classify. Intended for small broadcast payloads (e.g. a shutdown
// wakeup), not the steady-state per-session pump.
func WriteAllBlocking(targets []Target, payload []byte, log *zap.Logger) []Result {
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	wg.Add(len(targets))
	for i, t := range targets {
		i, t := i, t
		go func() {
			defer wg.Done()
			err := writeOne(t, payload)
			outcome := Classify(err)
			results[i] = Result{Target: t, Outcome: outcome, Err: err}

			if log == nil || err == nil {
				return
			}
			switch outcome {
			case OutcomeRemove:
				log.Debug("target gone during broadcast write", zap.String("id", t.ID()), zap.Error(err))
			case OutcomeKeep:
				log.Warn("broadcast write failed, keeping target", zap.String("id", t.ID()), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	return results
}

func writeOne(t Target, payload []byte) error {
	if _, err := t.Write(payload); err != nil {
		return err
	}
	return t.Flush()
}

// Classify maps a write error to an Outcome: broken pipe, connection
// reset, an already-closed connection, or any other net.Error that is not
// a timeout mean the peer is gone and the target should be removed;
// everything else (including a deadline exceeded from a caller-issued
// cancellation) is kept and logged.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return OutcomeRemove
	}

	var netErr net.Error
	if errors.As(err, &netErr) && !netErr.Timeout() {
		return OutcomeRemove
	}

	return OutcomeKeep
}
