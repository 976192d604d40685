// Package crawl drives one crawl run: candidate aggregation, bounded-parallel
// probing and snapshot upload.
package crawl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"kestrel/internal/domain"
	"kestrel/internal/geo"
	"kestrel/internal/query"
	"kestrel/internal/social"
)

const progressInterval = 50

// Querier issues one protocol query attempt against a server.
type Querier interface {
	Query(ctx context.Context, host string, port uint16) (*domain.QueryPayload, error)
}

// LatencyProber measures ICMP round-trip time to a host.
type LatencyProber interface {
	Probe(ctx context.Context, host string) (float64, error)
}

// GeoResolver resolves ASN/location metadata for a host.
type GeoResolver interface {
	Lookup(host string) (geo.Info, error)
}

// GuildResolver resolves a community invite code to guild metadata, or nil.
type GuildResolver interface {
	Resolve(ctx context.Context, inviteID string) *domain.GuildInfo
}

// Excluder quarantines an address after a terminal probe failure.
type Excluder interface {
	Exclude(ctx context.Context, address string, base time.Duration)
}

type ProberConfig struct {
	Concurrency   int
	Retry         query.RetryPolicy
	BlacklistBase time.Duration
}

// Prober fans candidates out over a fixed-size worker pool and produces
// exactly one ProbeResult per candidate, failures included.
type Prober struct {
	cfg     ProberConfig
	querier Querier
	latency LatencyProber
	geo     GeoResolver
	guilds  GuildResolver
	blocker Excluder

	succeeded atomic.Int64
	failed    atomic.Int64
}

func NewProber(cfg ProberConfig, querier Querier, latency LatencyProber, geoResolver GeoResolver, guilds GuildResolver, blocker Excluder) *Prober {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 30
	}
	return &Prober{
		cfg:     cfg,
		querier: querier,
		latency: latency,
		geo:     geoResolver,
		guilds:  guilds,
		blocker: blocker,
	}
}

// ProbeAll drains the candidate set through the pool and returns when every
// probe has settled. len(results) always equals len(candidates).
func (p *Prober) ProbeAll(ctx context.Context, candidates []string, origins map[string]domain.Origin) []domain.ProbeResult {
	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))

	var (
		mu      sync.Mutex
		results = make([]domain.ProbeResult, 0, len(candidates))
	)

	total := len(candidates)
	for _, address := range candidates {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled: settle the remaining candidates as
			// failures so accounting completeness still holds.
			mu.Lock()
			results = append(results, p.failedResult(address, origins[address]))
			mu.Unlock()
			p.failed.Add(1)
			continue
		}

		go func(address string) {
			defer sem.Release(1)

			result := p.probe(ctx, address, origins[address])

			mu.Lock()
			results = append(results, result)
			done := len(results)
			mu.Unlock()

			if done%progressInterval == 0 {
				log.Info("crawl progress", "done", done, "total", total,
					"success", p.succeeded.Load(), "failed", p.failed.Load())
			}
		}(address)
	}

	// Drain the pool.
	if err := sem.Acquire(context.Background(), int64(p.cfg.Concurrency)); err == nil {
		sem.Release(int64(p.cfg.Concurrency))
	}

	return results
}

// probe runs the full per-candidate sequence. Enrichment failures never fail
// the probe; only an exhausted query retry budget does.
func (p *Prober) probe(ctx context.Context, address string, origin domain.Origin) domain.ProbeResult {
	host, port, err := domain.SplitAddress(address)
	if err != nil {
		log.Warn("unprobeable address in candidate set", "address", address, "error", err)
		p.failed.Add(1)
		return p.failedResult(address, origin)
	}

	result := domain.ProbeResult{
		Hostname: address,
		Port:     port,
		Hosted:   origin == domain.OriginHosted,
		OpenMP:   origin == domain.OriginOpenMP,
		Origin:   origin.String(),
		IP:       domain.IPInfo{Address: host},
	}

	if info, err := p.geo.Lookup(host); err == nil {
		result.IP.ASN = domain.ASNInfo{Number: info.ASNumber, OrgName: info.ASNOrg}
		result.IP.Country = info.Country
		result.IP.City = info.City
		result.IP.Latitude = info.Latitude
		result.IP.Longitude = info.Longitude
	} else {
		log.Debug("geo lookup failed", "host", host, "error", err)
	}

	var payload *domain.QueryPayload
	queryErr := p.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		queried, err := p.querier.Query(ctx, host, port)
		if err != nil {
			log.Debug("query attempt failed", "address", address, "error", err)
			return err
		}
		payload = queried
		return nil
	})

	if ms, err := p.latency.Probe(ctx, host); err == nil {
		result.IP.Ping = &ms
	}

	if queryErr != nil {
		p.failed.Add(1)
		p.blocker.Exclude(ctx, address, p.cfg.BlacklistBase)
		return result
	}

	result.Payload = payload
	p.succeeded.Add(1)

	if invite, ok := inferInvite(payload); ok {
		result.Guild = p.guilds.Resolve(ctx, invite)
	}

	return result
}

func (p *Prober) failedResult(address string, origin domain.Origin) domain.ProbeResult {
	host, port, _ := domain.SplitAddress(address)
	return domain.ProbeResult{
		Hostname: address,
		Port:     port,
		Hosted:   origin == domain.OriginHosted,
		OpenMP:   origin == domain.OriginOpenMP,
		Origin:   origin.String(),
		IP:       domain.IPInfo{Address: host},
	}
}

func (p *Prober) Stats() (succeeded, failed int64) {
	return p.succeeded.Load(), p.failed.Load()
}

func inferInvite(payload *domain.QueryPayload) (string, bool) {
	if payload == nil {
		return "", false
	}
	return social.InferInvite(payload.Rules["weburl"])
}
