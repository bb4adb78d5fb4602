package valkey

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/pawrescue/kbengine/internal/db"
)

// ScoreField is the FT.SEARCH alias carrying the raw KNN distance.
const ScoreField = "__vector_score"

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
// Entries keep the raw distance reported by the server in Score.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if q.VectorField == "" {
		return nil, fmt.Errorf("vector field is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	knnPart := fmt.Sprintf("[KNN %d @%s $BLOB]", q.K, q.VectorField)
	queryStr := "*=>" + knnPart
	if filterStr := buildFilter(&q.Filter); filterStr != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", filterStr, knnPart)
	}

	args := []string{q.IndexName, queryStr}
	if len(q.ReturnFields) > 0 {
		fields := append(q.ReturnFields[:len(q.ReturnFields):len(q.ReturnFields)], ScoreField)
		args = append(args, "RETURN", strconv.Itoa(len(fields)))
		args = append(args, fields...)
	}
	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	return parseKNNResult(raw)
}

// SearchCount returns the number of documents matching f. valkey-search
// rejects FT.SEARCH without a filter, so an empty filter counts keys under
// keyPrefix with SCAN instead.
func (s *Store) SearchCount(ctx context.Context, index, keyPrefix string, f db.Filter) (int, error) {
	if f.IsEmpty() {
		keys, err := s.Scan(ctx, keyPrefix+"*")
		if err != nil {
			return 0, fmt.Errorf("scan for count: %w", err)
		}
		return len(keys), nil
	}

	cmd := s.b().Arbitrary("FT.SEARCH").Args(index, buildFilter(&f), "LIMIT", "0", "0", "DIALECT", "2").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return 0, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, &db.Error{Op: db.OpSearch, Err: fmt.Errorf("parse count: %w", err)}
	}
	return int(total), nil
}

func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: fmt.Errorf("parse total: %w", err)}
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entry := db.SearchEntry{Key: key, Fields: parseFieldPairs(fields)}
		if scoreStr, ok := entry.Fields[ScoreField]; ok {
			if v, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				entry.Score = v
			}
			delete(entry.Fields, ScoreField)
		}
		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// buildFilter renders a pre-filter: conditions are ANDed, tag values ORed.
func buildFilter(f *db.Filter) string {
	if f.IsEmpty() {
		return ""
	}

	parts := make([]string, 0, len(f.Tags)+len(f.Numeric))
	for _, t := range f.Tags {
		if len(t.Values) == 0 {
			continue
		}
		escaped := make([]string, len(t.Values))
		for i, v := range t.Values {
			escaped[i] = tagEscaper.Replace(v)
		}
		parts = append(parts, fmt.Sprintf("@%s:{%s}", t.Field, strings.Join(escaped, " | ")))
	}
	for _, n := range f.Numeric {
		parts = append(parts, buildNumericFilter(n))
	}
	return strings.Join(parts, " ")
}

func buildNumericFilter(n db.NumericFilter) string {
	minBound, maxBound := "-inf", "+inf"
	if n.Min != nil {
		minBound = strconv.FormatFloat(*n.Min, 'f', -1, 64)
	}
	if n.Max != nil {
		maxBound = strconv.FormatFloat(*n.Max, 'f', -1, 64)
	}
	return fmt.Sprintf("@%s:[%s %s]", n.Field, minBound, maxBound)
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	" ", "\\ ",
)

// VectorToBytes encodes v as little-endian FLOAT32, the HASH vector layout.
func VectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesToVector decodes a little-endian FLOAT32 blob.
func BytesToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func vectorToBytes(v []float32) string {
	return rueidis.BinaryString(VectorToBytes(v))
}
