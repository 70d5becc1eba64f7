// Package resolver implements the discovery core of the publish/subscribe
// system: a UDP-based protocol that finds matching outlets across a LAN
// using alternating multicast/broadcast/unicast query waves, deduplicates
// responses by stream UID, and maintains a timestamped live-set.
package resolver

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lslnet/streamnet/config"
	"github.com/lslnet/streamnet/errs"
	"github.com/lslnet/streamnet/logging"
)

type mode int

const (
	modeUnset mode = iota
	modeOneshot
	modeContinuous
)

// Resolver is the front door for one-shot and continuous resolution. A
// single instance may run in exactly one of those two modes; switching
// between them is rejected with errs.ErrAlreadyRunning.
type Resolver struct {
	cfg *config.Config
	log *zap.Logger

	mu        sync.Mutex
	mode      mode
	cancelled bool

	current *attempt
	wg      sync.WaitGroup
}

// New builds a Resolver bound to cfg.
func New(cfg *config.Config) *Resolver {
	return &Resolver{cfg: cfg, log: logging.Named("resolver")}
}

// ResolveOneshot constructs an attempt, runs its event loop inline on the
// calling goroutine until it is done, and returns the consolidated live
// set. minimum=0 means "resolve until timeout"; a positive minimum combined
// with minimumTime keeps gathering past satisfying the count until the
// soft deadline.
func (r *Resolver) ResolveOneshot(q string, minimum int, timeout, minimumTime time.Duration) (map[string]Result, error) {
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.mode == modeContinuous {
		r.mu.Unlock()
		return nil, errs.ErrAlreadyRunning
	}
	r.mode = modeOneshot
	r.mu.Unlock()

	a, err := r.newAttempt(q, params{
		unicastWait:   r.cfg.UnicastMinRTT,
		multicastWait: r.cfg.MulticastMinRTT,
		cancelAfter:   timeout,
		minimum:       minimum,
		minimumTime:   minimumTime,
		validateReply: r.cfg.ValidateQueryResponses,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.current = a
	r.mu.Unlock()

	// Runs on the calling goroutine; once run returns, the attempt's
	// sockets are closed and the result map is read back as a snapshot.
	a.run()

	return a.results.snapshot(), nil
}

// ResolveContinuous constructs an attempt with wave spacings lengthened by
// ContinuousResolveInterval and spawns a dedicated goroutine that drives
// its event loop until Cancel is called.
func (r *Resolver) ResolveContinuous(q string) error {
	if err := checkQuery(q); err != nil {
		return err
	}

	r.mu.Lock()
	if r.mode == modeOneshot {
		r.mu.Unlock()
		return errs.ErrAlreadyRunning
	}
	if r.mode == modeContinuous {
		r.mu.Unlock()
		return errs.ErrAlreadyRunning
	}
	r.mode = modeContinuous
	r.mu.Unlock()

	a, err := r.newAttempt(q, params{
		unicastWait:   r.cfg.UnicastMinRTT + r.cfg.ContinuousResolveInterval,
		multicastWait: r.cfg.MulticastMinRTT + r.cfg.ContinuousResolveInterval,
		cancelAfter:   0,
		minimum:       0,
		validateReply: r.cfg.ValidateQueryResponses,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.current = a
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		a.run()
	}()

	return nil
}

// Results returns a snapshot of the live set, up to max entries (0 means
// unlimited), pruning entries whose last_seen predates forgetAfter in the
// same pass.
func (r *Resolver) Results(forgetAfter time.Duration, max int) []Result {
	r.mu.Lock()
	a := r.current
	r.mu.Unlock()
	if a == nil {
		return nil
	}

	snap := a.results.snapshotPruning(forgetAfter, time.Now())
	out := make([]Result, 0, len(snap))
	for _, v := range snap {
		out = append(out, v)
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out
}

// Cancel stops the current attempt and waits for its background goroutine
// (if any) to finish. Idempotent.
func (r *Resolver) Cancel() {
	r.mu.Lock()
	if r.cancelled {
		r.mu.Unlock()
		return
	}
	r.cancelled = true
	a := r.current
	r.mu.Unlock()

	if a != nil {
		a.cancel()
	}
	r.wg.Wait()
}

func (r *Resolver) newAttempt(q string, p params) (*attempt, error) {
	full := buildFullQuery(r.cfg.SessionID, q)

	mcastV4, mcastV6, broadcastFromMcast := classify(r.cfg.MulticastAddresses, r.cfg.MulticastPort)
	unicastTargets := expandPeers(r.cfg.KnownPeers, r.cfg.BasePort, r.cfg.PortRange)

	return newAttempt(r.cfg, unicastTargets, mcastV4, mcastV6, broadcastFromMcast, full, p, r.log)
}
