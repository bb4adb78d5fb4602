package batch

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of processing one item in a batch operation.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the item identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// ItemError names a failed id and why it failed.
type ItemError struct {
	ID  string
	Err error
}

// Summary is the outcome of a whole batch call. Every input id is counted in
// exactly one of ProcessedCount or FailedCount, and every failure is itemized.
type Summary struct {
	Success        bool
	ProcessedCount int
	FailedCount    int
	Errors         []ItemError
}

// Summarize folds per-item results into a Summary.
func Summarize(results []Result) Summary {
	s := Summary{}
	for _, r := range results {
		if r.status == StatusOK {
			s.ProcessedCount++
			continue
		}
		s.FailedCount++
		s.Errors = append(s.Errors, ItemError{ID: r.id, Err: r.err})
	}
	s.Success = s.FailedCount == 0
	return s
}

// FailAll marks every id as failed with err.
func FailAll(ids []string, err error) []Result {
	results := make([]Result, len(ids))
	for i, id := range ids {
		results[i] = NewError(id, err)
	}
	return results
}
