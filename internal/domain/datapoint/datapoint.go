// Package datapoint is the wire format shared by remote ANN index clients:
// a feature vector plus token and numeric restricts used for server-side filtering.
package datapoint

// NumericOp compares a numeric restrict against a datapoint value.
type NumericOp string

// Numeric comparison operators.
const (
	OpLess         NumericOp = "LESS"
	OpLessEqual    NumericOp = "LESS_EQUAL"
	OpEqual        NumericOp = "EQUAL"
	OpGreaterEqual NumericOp = "GREATER_EQUAL"
	OpGreater      NumericOp = "GREATER"
)

// Restrict is a token namespace. On a datapoint AllowList holds its values;
// on a query it is the set of accepted values (any overlap matches).
type Restrict struct {
	Namespace string
	AllowList []string
	DenyList  []string
}

// NumericRestrict is a numeric namespace. On a datapoint only Value is used;
// on a query Op compares the datapoint value against Value.
type NumericRestrict struct {
	Namespace string
	Value     int64
	Op        NumericOp
}

// Datapoint is a single vector in a remote index. Payload is an opaque side
// channel stored next to the vector and returned with neighbors.
type Datapoint struct {
	ID               string
	FeatureVector    []float32
	Restricts        []Restrict
	NumericRestricts []NumericRestrict
	Payload          string
}

// Query is a nearest-neighbor request.
type Query struct {
	FeatureVector    []float32
	NeighborCount    int
	Restricts        []Restrict
	NumericRestricts []NumericRestrict
}

// Neighbor is a single hit. Distance is in the engine's native convention for
// the configured metric; index clients convert vendor values before returning.
type Neighbor struct {
	Datapoint Datapoint
	Distance  float64
}

// RestrictValues returns the allow list for namespace ns, or nil.
func (d *Datapoint) RestrictValues(ns string) []string {
	for _, r := range d.Restricts {
		if r.Namespace == ns {
			return r.AllowList
		}
	}
	return nil
}

// NumericValue returns the value for namespace ns.
func (d *Datapoint) NumericValue(ns string) (int64, bool) {
	for _, r := range d.NumericRestricts {
		if r.Namespace == ns {
			return r.Value, true
		}
	}
	return 0, false
}
