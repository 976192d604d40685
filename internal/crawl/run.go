package crawl

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"kestrel/internal/database"
	"kestrel/internal/domain"
	"kestrel/internal/sources"
	"kestrel/internal/storage"
)

// Runner owns one end-to-end crawl: gather, probe, snapshot, register.
type Runner struct {
	aggregator *sources.Aggregator
	prober     *Prober
	writer     *storage.Writer
	servers    *database.ServerStore
}

func NewRunner(aggregator *sources.Aggregator, prober *Prober, writer *storage.Writer, servers *database.ServerStore) *Runner {
	return &Runner{
		aggregator: aggregator,
		prober:     prober,
		writer:     writer,
		servers:    servers,
	}
}

// Run executes a single crawl. Only snapshot upload failure is fatal;
// everything else degrades.
func (r *Runner) Run(ctx context.Context) error {
	startedAt := time.Now().UTC()
	log.Info("starting crawl run", "key", storage.SnapshotKey("", startedAt))

	set := r.aggregator.Gather(ctx, startedAt)
	log.Info("gathered candidate servers",
		"known", set.Counts["known"],
		"hosted", set.Counts["hosted"],
		"internet", set.Counts["internet"],
		"openmp", set.Counts["openmp"],
		"blacklisted", set.Counts["blacklisted"],
		"queryable", set.Counts["queryable"])

	results := r.prober.ProbeAll(ctx, set.Candidates, set.Origins)
	succeeded, failed := r.prober.Stats()

	key, err := r.writer.Write(ctx, startedAt, results)
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	// Record any hosts the master lists surfaced that the registry has not
	// seen before. Failure here costs rediscovery on the next run, nothing
	// more.
	if err := r.servers.RegisterServers(ctx, newServers(results)); err != nil {
		log.Warn("failed to register discovered servers", "error", err)
	}

	log.Info("completed crawl run",
		"key", key,
		"duration", time.Since(startedAt).String(),
		"crawled", len(results),
		"online", succeeded,
		"failed", failed)
	return nil
}

func newServers(results []domain.ProbeResult) []domain.GameServer {
	servers := make([]domain.GameServer, 0, len(results))
	for _, result := range results {
		servers = append(servers, domain.GameServer{
			Address: result.Hostname,
			IP:      result.IP.Address,
			Port:    result.Port,
			Origin:  result.Origin,
		})
	}
	return servers
}
