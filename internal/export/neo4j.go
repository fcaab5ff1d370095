// Package export loads the shrinker dependency graph into Neo4j for
// inspection of why members were kept.
package export

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/class-shrinker/internal/graph"
	"github.com/class-shrinker/pkg/config"
	"github.com/class-shrinker/pkg/utils"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 500

// Runner executes one Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// Neo4jRunner runs statements through a Neo4j driver.
type Neo4jRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jRunner connects to the Neo4j instance described by cfg.
func NewNeo4jRunner(ctx context.Context, cfg *config.Neo4jConfig) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j: %w", err)
	}
	return &Neo4jRunner{driver: driver, database: cfg.Database}, nil
}

// Run executes cypher with params.
func (r *Neo4jRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(r.database))
	return err
}

// Close releases the driver.
func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// Stats counts what an export wrote.
type Stats struct {
	Nodes   int
	Edges   int
	Batches int
}

// Exporter writes members as :Member nodes and dependencies as relationships
// named after their DependencyType.
type Exporter struct {
	runner    Runner
	batchSize int
	logger    utils.Logger
}

// NewExporter creates an Exporter. A non-positive batchSize selects
// DefaultBatchSize.
func NewExporter(runner Runner, batchSize int, logger utils.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{runner: runner, batchSize: batchSize, logger: utils.OrNull(logger)}
}

const (
	cleanCypher = "MATCH (n:Member) DETACH DELETE n"
	indexCypher = "CREATE INDEX member_key IF NOT EXISTS FOR (n:Member) ON (n.key)"
	nodeCypher  = `UNWIND $batch AS row
		MERGE (n:Member {key: row.key})
		SET n.class = row.class, n.name = row.name, n.desc = row.desc, n.kind = row.kind,
		    n.library = row.library, n.seed = row.seed,
		    n.kept = row.kept, n.main_dex = row.main_dex`
	edgeCypherFormat = `UNWIND $batch AS row
		MATCH (s:Member {key: row.src})
		MATCH (t:Member {key: row.dst})
		MERGE (s)-[:%s]->(t)`
)

// Export replaces the exported graph with the contents of store.
func (e *Exporter) Export(ctx context.Context, store *graph.Store) (Stats, error) {
	var stats Stats

	for _, q := range []string{cleanCypher, indexCypher} {
		if err := e.runner.Run(ctx, q, nil); err != nil {
			return stats, fmt.Errorf("failed to prepare graph: %w", err)
		}
	}

	nodes := store.Nodes()
	rows := make([]map[string]any, 0, len(nodes))
	for _, m := range nodes {
		rows = append(rows, nodeRow(store, m))
	}
	if err := e.flush(ctx, nodeCypher, rows, &stats); err != nil {
		return stats, fmt.Errorf("failed to export members: %w", err)
	}
	stats.Nodes = len(rows)

	edges := make(map[graph.DependencyType][]map[string]any)
	store.ForEachEdge(func(src graph.Member, dep graph.Dependency) bool {
		edges[dep.Type] = append(edges[dep.Type], map[string]any{
			"src": src.String(),
			"dst": dep.Target.String(),
		})
		return true
	})
	for _, typ := range []graph.DependencyType{graph.Required, graph.NeededForInheritance, graph.IsOverridden} {
		cypher := fmt.Sprintf(edgeCypherFormat, typ.String())
		if err := e.flush(ctx, cypher, edges[typ], &stats); err != nil {
			return stats, fmt.Errorf("failed to export %s edges: %w", typ, err)
		}
		stats.Edges += len(edges[typ])
	}

	e.logger.Info("Exported %d members and %d dependencies in %d batches", stats.Nodes, stats.Edges, stats.Batches)
	return stats, nil
}

func (e *Exporter) flush(ctx context.Context, cypher string, rows []map[string]any, stats *Stats) error {
	for start := 0; start < len(rows); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+e.batchSize, len(rows))
		if err := e.runner.Run(ctx, cypher, map[string]any{"batch": rows[start:end]}); err != nil {
			return err
		}
		stats.Batches++
	}
	return nil
}

func nodeRow(store *graph.Store, m graph.Member) map[string]any {
	kind := "field"
	switch {
	case m.IsClass():
		kind = "class"
	case m.IsMethod():
		kind = "method"
	}
	return map[string]any{
		"key":      m.String(),
		"class":    m.Class,
		"name":     m.Name,
		"desc":     m.Desc,
		"kind":     kind,
		"library":  store.IsLibraryMember(m),
		"seed":     store.IsSeed(m, graph.TargetShrink),
		"kept":     store.IsReachable(m, graph.TargetShrink),
		"main_dex": store.IsReachable(m, graph.TargetLegacyMultidex),
	}
}
