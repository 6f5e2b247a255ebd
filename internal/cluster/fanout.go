package cluster

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/openinstrument/store/internal/storeerrors"
	"github.com/openinstrument/store/pkg/log"
)

// PeerClient is the request/reply transport to one peer server; callers
// supply their own implementation (HTTP, gRPC, in-process for tests).
// The fan-out layer depends only on this narrow interface so it never
// pulls in the HTTP/protobuf boundary described in §6.
type PeerClient interface {
	Query(ctx context.Context, peer string, req any) (any, error)
}

// PeerResult is one peer's outcome from a scattered request.
type PeerResult struct {
	Peer  string
	Value any
	Err   error
}

// Fanout scatters a request to every peer in cfg and gathers results,
// rate-limiting outbound dials per peer so a single slow query can't
// open unbounded concurrent connections to one node. Peers in DRAIN or
// SHUTDOWN state are skipped — everyone else is contacted, per §4.F's
// "base behavior is contact all" rule.
type Fanout struct {
	client PeerClient

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// RequestsPerSecond bounds outbound dials per peer; zero means
	// unlimited (a fresh, unlimited limiter is still tracked so tests can
	// observe per-peer call counts).
	RequestsPerSecond rate.Limit
	Burst             int
}

func NewFanout(client PeerClient) *Fanout {
	return &Fanout{
		client:            client,
		limiters:          make(map[string]*rate.Limiter),
		RequestsPerSecond: rate.Inf,
		Burst:             1,
	}
}

func (f *Fanout) limiterFor(peer string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[peer]
	if !ok {
		limit := f.RequestsPerSecond
		if limit == 0 {
			limit = rate.Inf
		}
		l = rate.NewLimiter(limit, f.Burst)
		f.limiters[peer] = l
	}
	return l
}

// Scatter queries every contactable peer in cfg concurrently and
// returns one PeerResult per peer attempted, in no particular order. A
// peer that times out waiting on its rate limiter or whose Query call
// errors contributes a PeerResult with a non-nil Err instead of halting
// the others, per the NetworkFailure handling in §7.
func (f *Fanout) Scatter(ctx context.Context, cfg *StoreConfig, req any) []PeerResult {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []PeerResult
	)

	for _, p := range cfg.Peers {
		if p.State == StateDrain || p.State == StateShutdown {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := f.queryOne(ctx, p.Address, req)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (f *Fanout) queryOne(ctx context.Context, peer string, req any) PeerResult {
	if err := f.limiterFor(peer).Wait(ctx); err != nil {
		return PeerResult{Peer: peer, Err: fmt.Errorf("%w: rate limit wait for %s: %s", storeerrors.ErrNetworkFailure, peer, err)}
	}
	val, err := f.client.Query(ctx, peer, req)
	if err != nil {
		log.Warnf("cluster: peer %s query failed: %v", peer, err)
		return PeerResult{Peer: peer, Err: fmt.Errorf("%w: %s", storeerrors.ErrNetworkFailure, err)}
	}
	return PeerResult{Peer: peer, Value: val}
}

// Gather collects the successful values from results, discarding
// failures (the caller already had the chance to log/surface them via
// the PeerResult.Err field).
func Gather[T any](results []PeerResult) []T {
	out := make([]T, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		if v, ok := r.Value.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
