// Package datapoint stores remote-index datapoints as Valkey hashes and serves
// neighbor queries through a valkey-search HNSW index.
package datapoint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pawrescue/kbengine/internal/db"
	"github.com/pawrescue/kbengine/internal/db/valkey"
	"github.com/pawrescue/kbengine/internal/domain"
	domdp "github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/metric"
)

const clearBatchSize = 500

// store is the consumer interface for datapoints (ISP).
type store interface {
	db.Pinger
	db.HashStore
	db.IndexManager
	db.Searcher
}

// Repo implements the remote backend's Index, Counter, Clearer, Reader,
// Pinger and Validator contracts.
type Repo struct {
	store store
	cfg   Config
}

// New creates a datapoint repository.
func New(s store, cfg Config) (*Repo, error) {
	if cfg.IndexName == "" || cfg.KeyPrefix == "" {
		return nil, fmt.Errorf("index name and key prefix are required: %w", domain.ErrValidation)
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive: %w", domain.ErrValidation)
	}
	if cfg.Metric == "" {
		cfg.Metric = metric.Cosine
	}
	return &Repo{store: s, cfg: cfg}, nil
}

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	def, err := buildIndex(&r.cfg)
	if err != nil {
		return fmt.Errorf("build index %s: %w: %w", r.cfg.IndexName, domain.ErrValidation, err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", r.cfg.IndexName, dbErr(err))
	}
	return nil
}

// UpsertDatapoints replaces each datapoint's hash atomically. On error no
// hash is modified.
func (r *Repo) UpsertDatapoints(ctx context.Context, dps []domdp.Datapoint) error {
	if len(dps) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, len(dps))
	for i := range dps {
		fields, err := r.buildHashFields(&dps[i])
		if err != nil {
			return err
		}
		items[i] = db.HashSetItem{Key: r.key(dps[i].ID), Fields: fields}
	}

	// HSET merges fields, so each hash is deleted first in the same transaction.
	if err := r.store.HReplaceMulti(ctx, items); err != nil {
		return fmt.Errorf("replace %d datapoints: %w", len(items), dbErr(err))
	}
	return nil
}

// RemoveDatapoints deletes datapoints by id. Unknown ids are ignored.
func (r *Repo) RemoveDatapoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	if _, err := r.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("del %d datapoints: %w", len(ids), dbErr(err))
	}
	return nil
}

// FindNeighbors runs a filtered KNN query. Distances are converted from the
// server's raw score to the native distance of the configured metric.
func (r *Repo) FindNeighbors(ctx context.Context, q domdp.Query) ([]domdp.Neighbor, error) {
	f, err := buildFilter(q.Restricts, q.NumericRestricts)
	if err != nil {
		return nil, err
	}

	res, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    r.cfg.IndexName,
		VectorField:  fieldVector,
		Filter:       f,
		Vector:       q.FeatureVector,
		K:            q.NeighborCount,
		ReturnFields: r.returnFields(),
	})
	if err != nil {
		return nil, fmt.Errorf("knn search %s: %w", r.cfg.IndexName, dbErr(err))
	}

	out := make([]domdp.Neighbor, 0, len(res.Entries))
	for _, e := range res.Entries {
		dp := r.parseHashFields(r.id(e.Key), e.Fields)
		out = append(out, domdp.Neighbor{Datapoint: dp, Distance: NativeDistance(r.cfg.Metric, e.Score)})
	}
	return out, nil
}

// CountDatapoints returns the exact number of datapoints matching the restricts.
func (r *Repo) CountDatapoints(ctx context.Context, restricts []domdp.Restrict, numeric []domdp.NumericRestrict) (int, error) {
	f, err := buildFilter(restricts, numeric)
	if err != nil {
		return 0, err
	}
	n, err := r.store.SearchCount(ctx, r.cfg.IndexName, r.cfg.KeyPrefix, f)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", r.cfg.IndexName, dbErr(err))
	}
	return n, nil
}

// ClearDatapoints deletes every hash under the key prefix. The index is kept.
func (r *Repo) ClearDatapoints(ctx context.Context) error {
	keys, err := r.store.Scan(ctx, r.cfg.KeyPrefix+"*")
	if err != nil {
		return fmt.Errorf("scan %s: %w", r.cfg.KeyPrefix, dbErr(err))
	}
	for start := 0; start < len(keys); start += clearBatchSize {
		end := min(start+clearBatchSize, len(keys))
		if _, err := r.store.Del(ctx, keys[start:end]...); err != nil {
			return fmt.Errorf("del batch: %w", dbErr(err))
		}
	}
	return nil
}

// ReadDatapoints fetches datapoints by id. Missing ids are omitted.
func (r *Repo) ReadDatapoints(ctx context.Context, ids []string) ([]domdp.Datapoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}

	hashes, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("hgetall %d datapoints: %w", len(ids), dbErr(err))
	}

	out := make([]domdp.Datapoint, 0, len(hashes))
	for i, m := range hashes {
		if len(m) == 0 {
			continue
		}
		out = append(out, r.parseHashFields(ids[i], m))
	}
	return out, nil
}

// Ping checks connectivity to the underlying store.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", dbErr(err))
	}
	return nil
}

// NativeDistance maps a raw __vector_score to the engine convention.
// valkey-search reports 1-cos for COSINE, 1-dot for IP and the squared
// distance for L2.
func NativeDistance(m metric.Metric, raw float64) float64 {
	switch m {
	case metric.DotProduct:
		return raw - 1
	case metric.Euclidean:
		return math.Sqrt(math.Max(raw, 0))
	default:
		return raw
	}
}

func (r *Repo) key(id string) string {
	return r.cfg.KeyPrefix + id
}

func (r *Repo) id(key string) string {
	return strings.TrimPrefix(key, r.cfg.KeyPrefix)
}

func (r *Repo) returnFields() []string {
	tags, nums := r.cfg.tagFields(), r.cfg.numericFields()
	fields := make([]string, 0, 2+len(tags)+len(nums))
	fields = append(fields, fieldVector, fieldPayload)
	fields = append(fields, tags...)
	return append(fields, nums...)
}

// ValidateDatapoint rejects restrict values that TAG syntax cannot store.
func (r *Repo) ValidateDatapoint(dp *domdp.Datapoint) error {
	for _, rs := range dp.Restricts {
		for _, v := range rs.AllowList {
			if strings.Contains(v, tagSeparator) {
				return fmt.Errorf("datapoint %q: %s value %q contains %q: %w",
					dp.ID, rs.Namespace, v, tagSeparator, domain.ErrValidation)
			}
		}
	}
	return nil
}

func (r *Repo) buildHashFields(dp *domdp.Datapoint) (map[string]string, error) {
	if err := r.ValidateDatapoint(dp); err != nil {
		return nil, err
	}
	m := make(map[string]string, 2+len(dp.Restricts)+len(dp.NumericRestricts))
	m[fieldVector] = string(valkey.VectorToBytes(dp.FeatureVector))
	if dp.Payload != "" {
		m[fieldPayload] = dp.Payload
	}
	for _, rs := range dp.Restricts {
		if len(rs.AllowList) > 0 {
			m[rs.Namespace] = strings.Join(rs.AllowList, tagSeparator)
		}
	}
	for _, n := range dp.NumericRestricts {
		m[n.Namespace] = strconv.FormatInt(n.Value, 10)
	}
	return m, nil
}

func (r *Repo) parseHashFields(id string, m map[string]string) domdp.Datapoint {
	dp := domdp.Datapoint{ID: id, Payload: m[fieldPayload]}
	if raw, ok := m[fieldVector]; ok {
		if v, err := valkey.BytesToVector([]byte(raw)); err == nil {
			dp.FeatureVector = v
		}
	}
	for _, ns := range r.cfg.tagFields() {
		if v := m[ns]; v != "" {
			dp.Restricts = append(dp.Restricts, domdp.Restrict{Namespace: ns, AllowList: strings.Split(v, tagSeparator)})
		}
	}
	for _, ns := range r.cfg.numericFields() {
		if v, err := strconv.ParseInt(m[ns], 10, 64); err == nil {
			dp.NumericRestricts = append(dp.NumericRestricts, domdp.NumericRestrict{Namespace: ns, Value: v})
		}
	}
	return dp
}

// buildFilter renders query restricts as a pre-filter. Integer bounds make
// strict comparisons exact.
func buildFilter(restricts []domdp.Restrict, numeric []domdp.NumericRestrict) (db.Filter, error) {
	var f db.Filter
	for _, rs := range restricts {
		if len(rs.DenyList) > 0 {
			return db.Filter{}, fmt.Errorf("deny lists are not supported: %w", domain.ErrValidation)
		}
		if len(rs.AllowList) > 0 {
			f.Tags = append(f.Tags, db.TagFilter{Field: rs.Namespace, Values: rs.AllowList})
		}
	}
	for _, n := range numeric {
		v := float64(n.Value)
		nf := db.NumericFilter{Field: n.Namespace}
		switch n.Op {
		case domdp.OpLess:
			nf.Max = ptr(v - 1)
		case domdp.OpLessEqual:
			nf.Max = ptr(v)
		case domdp.OpGreater:
			nf.Min = ptr(v + 1)
		case domdp.OpGreaterEqual:
			nf.Min = ptr(v)
		case domdp.OpEqual, "":
			nf.Min, nf.Max = ptr(v), ptr(v)
		default:
			return db.Filter{}, fmt.Errorf("unknown numeric op %q: %w", n.Op, domain.ErrValidation)
		}
		f.Numeric = append(f.Numeric, nf)
	}
	return f, nil
}

func ptr(v float64) *float64 { return &v }

// dbErr classifies store failures as retryable database errors. Context
// errors pass through so the retry loop can tell cancellation apart.
func dbErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrDatabase, err)
	}
}
