package filter

import (
	"fmt"
	"slices"
	"time"

	"github.com/pawrescue/kbengine/internal/domain/document"
)

// MaxSetValues is the maximum number of values in a set field.
const MaxSetValues = 32

// Filter is a metadata predicate. Specified fields are ANDed; set fields
// (audience, tags) match on any overlap. The zero value matches everything.
type Filter struct {
	category string
	audience []string
	source   string
	version  string
	tags     []string
	from     *time.Time
	to       *time.Time
}

// Option configures a Filter.
type Option func(*Filter)

// WithCategory requires metadata.category to equal c.
func WithCategory(c string) Option { return func(f *Filter) { f.category = c } }

// WithAudience requires metadata.audience to share at least one value with a.
func WithAudience(a ...string) Option { return func(f *Filter) { f.audience = append(f.audience, a...) } }

// WithSource requires metadata.source to equal s.
func WithSource(s string) Option { return func(f *Filter) { f.source = s } }

// WithVersion requires metadata.version to equal v.
func WithVersion(v string) Option { return func(f *Filter) { f.version = v } }

// WithTags requires metadata.tags to share at least one value with t.
func WithTags(t ...string) Option { return func(f *Filter) { f.tags = append(f.tags, t...) } }

// WithTimeRange bounds metadata.timestamp inclusively. Nil bounds are open.
func WithTimeRange(from, to *time.Time) Option {
	return func(f *Filter) {
		f.from = from
		f.to = to
	}
}

// New validates and creates a Filter.
func New(opts ...Option) (Filter, error) {
	var f Filter
	for _, opt := range opts {
		opt(&f)
	}
	f.audience = compactSet(f.audience)
	f.tags = compactSet(f.tags)

	if len(f.audience) > MaxSetValues {
		return Filter{}, fmt.Errorf("too many audience values (max %d)", MaxSetValues)
	}
	if len(f.tags) > MaxSetValues {
		return Filter{}, fmt.Errorf("too many tag values (max %d)", MaxSetValues)
	}
	if f.from != nil && f.to != nil && f.from.After(*f.to) {
		return Filter{}, fmt.Errorf("time range start %s is after end %s", f.from, f.to)
	}
	return f, nil
}

// MustNew is New that panics on invalid input (tests and constants).
func MustNew(opts ...Option) Filter {
	f, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return f
}

// Category returns the category constraint ("" = none).
func (f Filter) Category() string { return f.category }

// Audience returns the audience set constraint (nil = none).
func (f Filter) Audience() []string { return f.audience }

// Source returns the source constraint ("" = none).
func (f Filter) Source() string { return f.source }

// Version returns the version constraint ("" = none).
func (f Filter) Version() string { return f.version }

// Tags returns the tag set constraint (nil = none).
func (f Filter) Tags() []string { return f.tags }

// From returns the inclusive lower timestamp bound.
func (f Filter) From() *time.Time { return f.from }

// To returns the inclusive upper timestamp bound.
func (f Filter) To() *time.Time { return f.to }

// IsEmpty reports whether the filter imposes no constraint.
func (f Filter) IsEmpty() bool {
	return f.category == "" && len(f.audience) == 0 && f.source == "" &&
		f.version == "" && len(f.tags) == 0 && f.from == nil && f.to == nil
}

// Matches reports whether meta satisfies every specified field.
func (f Filter) Matches(meta document.Metadata) bool {
	if f.category != "" && meta.Category != f.category {
		return false
	}
	if f.source != "" && meta.Source != f.source {
		return false
	}
	if f.version != "" && meta.Version != f.version {
		return false
	}
	if len(f.audience) > 0 && !overlaps(f.audience, meta.Audience) {
		return false
	}
	if len(f.tags) > 0 && !overlaps(f.tags, meta.Tags) {
		return false
	}
	if f.from != nil && meta.Timestamp.Before(*f.from) {
		return false
	}
	if f.to != nil && meta.Timestamp.After(*f.to) {
		return false
	}
	return true
}

func overlaps(want, have []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

func compactSet(s []string) []string {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}
