// Package sources assembles the candidate set for a crawl run from the
// persisted registry, the public master lists and the exclusion ledger.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"kestrel/internal/domain"
)

const maxListResponseBytes = 10 << 20 // safety cap per list fetch

// Registry is the subset of the server store the aggregator reads.
type Registry interface {
	KnownAddresses(ctx context.Context) ([]string, error)
	NonOpenMPAddresses(ctx context.Context) ([]string, error)
}

// ExclusionSource reports the currently active blacklist entries.
type ExclusionSource interface {
	ActiveExclusions(ctx context.Context, now time.Time) (map[string]struct{}, error)
}

type Config struct {
	HostedListURL   string
	InternetListURL string
	OpenMPListURL   string
	FetchTimeout    time.Duration
}

// CandidateSet is the output of one aggregation pass.
type CandidateSet struct {
	// Candidates holds every known address minus active exclusions, sorted
	// for deterministic iteration.
	Candidates []string
	Origins    map[string]domain.Origin
	// Counts per source, observability only.
	Counts map[string]int
}

type Aggregator struct {
	cfg        Config
	registry   Registry
	exclusions ExclusionSource
	client     *http.Client
}

func NewAggregator(cfg Config, registry Registry, exclusions ExclusionSource) *Aggregator {
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{
		cfg:        cfg,
		registry:   registry,
		exclusions: exclusions,
		client:     &http.Client{Timeout: timeout},
	}
}

// Gather unions every source into the candidate set. Any individual source
// failing degrades to an empty contribution; partial discovery beats no
// crawl, so there is no error to return.
func (a *Aggregator) Gather(ctx context.Context, now time.Time) *CandidateSet {
	var (
		wg sync.WaitGroup

		known       []string
		nonOpenMP   []string
		hosted      []string
		internet    []string
		openMP      []string
		blacklisted map[string]struct{}
	)

	fetch := func(name string, target *[]string, fn func() ([]string, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := fn()
			if err != nil {
				log.Warn("source unavailable, continuing without it", "source", name, "error", err)
				return
			}
			*target = list
		}()
	}

	fetch("registry", &known, func() ([]string, error) { return a.registry.KnownAddresses(ctx) })
	fetch("registry-non-openmp", &nonOpenMP, func() ([]string, error) { return a.registry.NonOpenMPAddresses(ctx) })
	fetch("hosted", &hosted, func() ([]string, error) { return a.fetchPlainList(ctx, a.cfg.HostedListURL) })
	fetch("internet", &internet, func() ([]string, error) { return a.fetchPlainList(ctx, a.cfg.InternetListURL) })
	fetch("openmp", &openMP, func() ([]string, error) { return a.fetchOpenMPList(ctx) })

	wg.Add(1)
	go func() {
		defer wg.Done()
		active, err := a.exclusions.ActiveExclusions(ctx, now)
		if err != nil {
			log.Warn("blacklist unavailable, probing everything", "error", err)
			active = map[string]struct{}{}
		}
		blacklisted = active
	}()

	wg.Wait()

	hostedSet := toSet(hosted)
	internetSet := toSet(internet)
	nonOpenMPSet := toSet(nonOpenMP)

	origins := make(map[string]domain.Origin)
	all := make(map[string]struct{})
	for _, list := range [][]string{known, internet, hosted, openMP} {
		for _, address := range list {
			all[address] = struct{}{}
			if _, tagged := origins[address]; !tagged {
				origins[address] = domain.OriginRegistry
			}
		}
	}

	for address := range all {
		switch {
		case contains(hostedSet, address):
			origins[address] = domain.OriginHosted
		case contains(internetSet, address):
			origins[address] = domain.OriginInternetList
		}
	}
	// An address is attributed to the openmp directory only when no primary
	// list carries it and the registry has not already classified it
	// otherwise. This keeps attribution stable across runs.
	for _, address := range openMP {
		if contains(hostedSet, address) || contains(internetSet, address) || contains(nonOpenMPSet, address) {
			continue
		}
		origins[address] = domain.OriginOpenMP
	}

	candidates := make([]string, 0, len(all))
	for address := range all {
		if _, excluded := blacklisted[address]; excluded {
			continue
		}
		candidates = append(candidates, address)
	}
	sort.Strings(candidates)

	return &CandidateSet{
		Candidates: candidates,
		Origins:    origins,
		Counts: map[string]int{
			"known":       len(all),
			"hosted":      len(hosted),
			"internet":    len(internet),
			"openmp":      len(openMP),
			"blacklisted": len(blacklisted),
			"queryable":   len(candidates),
		},
	}
}

func (a *Aggregator) fetchPlainList(ctx context.Context, listURL string) ([]string, error) {
	body, err := a.fetch(ctx, listURL)
	if err != nil {
		return nil, err
	}

	var addresses []string
	for _, line := range strings.Split(string(body), "\n") {
		if address, ok := domain.NormalizeAddress(line); ok {
			addresses = append(addresses, address)
		}
	}
	return addresses, nil
}

func (a *Aggregator) fetchOpenMPList(ctx context.Context) ([]string, error) {
	body, err := a.fetch(ctx, a.cfg.OpenMPListURL)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode openmp list: %w", err)
	}

	addresses := make([]string, 0, len(entries))
	for _, entry := range entries {
		if address, ok := domain.NormalizeAddress(entry.IP); ok {
			addresses = append(addresses, address)
		}
	}
	return addresses, nil
}

func (a *Aggregator) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("no url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxListResponseBytes))
}

func toSet(list []string) map[string]struct{} {
	set := make(map[string]struct{}, len(list))
	for _, item := range list {
		set[item] = struct{}{}
	}
	return set
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
