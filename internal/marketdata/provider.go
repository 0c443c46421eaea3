// Package marketdata wraps an upstream historical-bar source with the
// process-lifetime caching, request coalescing, and per-date candidate
// preload every agent's pipeline depends on. The upstream fetch protocol
// itself (HTTP client, vendor auth, rate limits) is an external
// collaborator; this package only adds the concurrency-safety layer on
// top of it.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aristath/arena-engine/internal/domain"
)

// Upstream is the raw, possibly thread-unsafe historical data source this
// package coalesces and caches requests against.
type Upstream interface {
	GetBar(ctx context.Context, code, date string) (domain.Bar, error)
	GetCalendar(ctx context.Context, start, end string) ([]string, error)
	GetBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error)
	GetHotPool(ctx context.Context, date string) (hotCodes []string, hotSectors []domain.HotSector, err error)
}

// Whitelist supplies the full universe of tradeable codes the fallback
// walk degrades to when a preload fails or returns an empty pool.
type Whitelist interface {
	Codes() []string
}

const (
	coalesceWait     = 30 // seconds; see GetBar's singleflight comment
	defaultBatchSize = 200
	maxHotCodes      = 200
	maxHotSectors    = 20
)

// Provider is the caching, coalescing facade the scheduler and agent
// pipeline consume. All caches are process-lifetime and safe for
// concurrent use by many agent goroutines at once.
type Provider struct {
	upstream  Upstream
	whitelist Whitelist
	batchSize int

	group singleflight.Group

	bars     sync.Map // key: code+"|"+date -> domain.Bar
	calendar sync.Map // key: start+"|"+end  -> []string
	info     sync.Map // key: code           -> domain.BasicInfo
	pools    sync.Map // key: date           -> domain.CandidatePool
}

// New constructs a Provider wrapping upstream. batchSize, if zero, defaults
// to 200 (the preload step's default candidate batch size).
func New(upstream Upstream, whitelist Whitelist, batchSize int) *Provider {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Provider{upstream: upstream, whitelist: whitelist, batchSize: batchSize}
}

// GetBar returns code's bar for date, from cache if present. Concurrent
// requests for the same (code, date) are coalesced into a single upstream
// fetch via singleflight; if that fetch somehow never completes within
// coalesceWait, each waiter gives up on the shared call and issues its own
// fetch directly — pathological, but guarantees every caller terminates.
func (p *Provider) GetBar(ctx context.Context, code, date string) (domain.Bar, error) {
	key := code + "|" + date
	if v, ok := p.bars.Load(key); ok {
		return v.(domain.Bar), nil
	}

	type result struct {
		bar domain.Bar
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err, _ := p.group.Do(key, func() (interface{}, error) {
			return p.upstream.GetBar(ctx, code, date)
		})
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{bar: v.(domain.Bar)}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return domain.Bar{}, r.err
		}
		p.bars.Store(key, r.bar)
		return r.bar, nil
	case <-ctx.Done():
		return domain.Bar{}, ctx.Err()
	case <-time.After(coalesceWait * time.Second):
		bar, err := p.upstream.GetBar(ctx, code, date)
		if err != nil {
			return domain.Bar{}, err
		}
		p.bars.Store(key, bar)
		return bar, nil
	}
}

// GetCalendar returns the trade-date calendar for [start, end], cached by
// the (start, end) pair.
func (p *Provider) GetCalendar(ctx context.Context, start, end string) ([]string, error) {
	key := start + "|" + end
	if v, ok := p.calendar.Load(key); ok {
		return v.([]string), nil
	}
	v, err, _ := p.group.Do("cal|"+key, func() (interface{}, error) {
		return p.upstream.GetCalendar(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}
	dates := v.([]string)
	p.calendar.Store(key, dates)
	return dates, nil
}

// GetBasicInfo returns static descriptive info for code, cached forever
// within the process lifetime.
func (p *Provider) GetBasicInfo(ctx context.Context, code string) (domain.BasicInfo, error) {
	if v, ok := p.info.Load(code); ok {
		return v.(domain.BasicInfo), nil
	}
	v, err, _ := p.group.Do("info|"+code, func() (interface{}, error) {
		return p.upstream.GetBasicInfo(ctx, code)
	})
	if err != nil {
		return domain.BasicInfo{}, err
	}
	info := v.(domain.BasicInfo)
	p.info.Store(code, info)
	return info, nil
}

// GetHotPool passes through to upstream; hot codes/sectors are only ever
// consumed once per date during Preload, so they are not separately cached.
func (p *Provider) GetHotPool(ctx context.Context, date string) ([]string, []domain.HotSector, error) {
	return p.upstream.GetHotPool(ctx, date)
}

// CandidatePool returns the cached pool for date, built by the most recent
// Preload call. If Preload never ran or produced nothing, this degrades to
// a fallback linear whitelist walk on demand, marking the result
// source=fallback for observability.
func (p *Provider) CandidatePool(date string) (domain.CandidatePool, error) {
	if v, ok := p.pools.Load(date); ok {
		pool := v.(domain.CandidatePool)
		if len(pool.Candidates) > 0 {
			return pool, nil
		}
	}
	pool, err := p.fallbackWalk(context.Background(), date)
	if err != nil {
		return domain.CandidatePool{}, err
	}
	p.pools.Store(date, pool)
	return pool, nil
}

// Preload is called once by the scheduler before a date's agents fan out.
// It queries the hot pool, orders the whitelist with hot codes first, then
// fetches basic info and D's bar for up to batchSize candidates, dropping
// anything with a non-positive close, non-positive volume, or ST/delisted
// status.
func (p *Provider) Preload(ctx context.Context, date string) error {
	hotCodes, hotSectors, err := p.upstream.GetHotPool(ctx, date)
	if err != nil {
		return fmt.Errorf("preload: hot pool fetch failed: %w", err)
	}
	if len(hotCodes) > maxHotCodes {
		hotCodes = hotCodes[:maxHotCodes]
	}
	if len(hotSectors) > maxHotSectors {
		hotSectors = hotSectors[:maxHotSectors]
	}

	hotSet := make(map[string]struct{}, len(hotCodes))
	for _, c := range hotCodes {
		hotSet[c] = struct{}{}
	}

	ordered := p.orderedWhitelist(hotSet)
	pool, err := p.buildPool(ctx, date, ordered, hotSet, hotSectors, domain.PoolSourcePreload)
	if err != nil {
		return err
	}
	p.pools.Store(date, pool)
	return nil
}

func (p *Provider) fallbackWalk(ctx context.Context, date string) (domain.CandidatePool, error) {
	ordered := p.orderedWhitelist(nil)
	return p.buildPool(ctx, date, ordered, nil, nil, domain.PoolSourceFallback)
}

func (p *Provider) orderedWhitelist(hotSet map[string]struct{}) []string {
	if p.whitelist == nil {
		return nil
	}
	codes := p.whitelist.Codes()
	ordered := make([]string, 0, len(codes))
	var hot, rest []string
	for _, c := range codes {
		if _, isHot := hotSet[c]; isHot {
			hot = append(hot, c)
		} else {
			rest = append(rest, c)
		}
	}
	sort.Strings(hot)
	ordered = append(ordered, hot...)
	ordered = append(ordered, rest...)
	return ordered
}

func (p *Provider) buildPool(ctx context.Context, date string, codes []string, hotSet map[string]struct{}, hotSectors []domain.HotSector, source domain.CandidatePoolSource) (domain.CandidatePool, error) {
	candidates := make([]domain.CandidateSnapshot, 0, p.batchSize)
	for _, code := range codes {
		if len(candidates) >= p.batchSize {
			break
		}
		info, err := p.GetBasicInfo(ctx, code)
		if err != nil || info.IsST || info.IsDelisted {
			continue
		}
		bar, err := p.GetBar(ctx, code, date)
		if err != nil || bar.Close <= 0 || bar.Volume <= 0 {
			continue
		}
		candidates = append(candidates, domain.CandidateSnapshot{Code: code, Name: info.Name, Close: bar.Close, Volume: bar.Volume})
	}
	return domain.CandidatePool{Date: date, Candidates: candidates, HotCodes: hotSet, HotSectors: hotSectors, Source: source}, nil
}
