package datapoint

import (
	"github.com/pawrescue/kbengine/internal/backend/remote"
	"github.com/pawrescue/kbengine/internal/db"
	"github.com/pawrescue/kbengine/internal/domain/metric"
)

// Reserved hash fields.
const (
	fieldVector  = "__vector"
	fieldPayload = "__payload"
)

// tagSeparator splits multi-valued TAG fields. Restrict values must not contain it.
const tagSeparator = "|"

// HNSWConfig tunes the HNSW vector index. Zero values keep server defaults.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Config describes the index layout.
type Config struct {
	IndexName  string
	KeyPrefix  string
	Dimensions int
	Metric     metric.Metric
	HNSW       HNSWConfig
	// TagFields and NumericFields list the restrict namespaces declared in the
	// schema. Nil uses the namespaces written by the remote codec.
	TagFields     []string
	NumericFields []string
}

func (c *Config) tagFields() []string {
	if c.TagFields != nil {
		return c.TagFields
	}
	return []string{
		remote.NamespaceCategory,
		remote.NamespaceAudience,
		remote.NamespaceSource,
		remote.NamespaceTags,
		remote.NamespaceVersion,
	}
}

func (c *Config) numericFields() []string {
	if c.NumericFields != nil {
		return c.NumericFields
	}
	return []string{remote.NamespaceTimestamp}
}

// buildIndex returns the FT index definition for cfg.
func buildIndex(cfg *Config) (*db.IndexDefinition, error) {
	b := db.NewIndex(cfg.IndexName).Prefix(cfg.KeyPrefix)
	for _, name := range cfg.tagFields() {
		b = b.Tag(name, tagSeparator)
	}
	for _, name := range cfg.numericFields() {
		b = b.Numeric(name)
	}
	b = b.Vector(fieldVector, cfg.Dimensions, db.VectorHNSW, distanceMetric(cfg.Metric), cfg.HNSW.M, cfg.HNSW.EFConstruct)
	return b.Build()
}

func distanceMetric(m metric.Metric) db.DistanceMetric {
	switch m {
	case metric.DotProduct:
		return db.DistanceIP
	case metric.Euclidean:
		return db.DistanceL2
	default:
		return db.DistanceCosine
	}
}
