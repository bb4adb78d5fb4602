package db

// TagFilter matches documents whose tag field holds any of Values.
type TagFilter struct {
	Field  string
	Values []string
}

// NumericFilter matches documents whose numeric field lies in [Min, Max].
// A nil bound is open.
type NumericFilter struct {
	Field string
	Min   *float64
	Max   *float64
}

// Filter is a conjunction of tag and numeric pre-filters.
type Filter struct {
	Tags    []TagFilter
	Numeric []NumericFilter
}

// IsEmpty reports whether the filter has no conditions.
func (f *Filter) IsEmpty() bool {
	return len(f.Tags) == 0 && len(f.Numeric) == 0
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string
	Filter       Filter
	Vector       []float32
	K            int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit. Score is the raw __vector_score
// reported by the server for the index's distance metric.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
