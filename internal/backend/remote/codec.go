package remote

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pawrescue/kbengine/internal/domain/datapoint"
	"github.com/pawrescue/kbengine/internal/domain/document"
	"github.com/pawrescue/kbengine/internal/domain/search/filter"
)

// Restrict namespaces written for every datapoint.
const (
	NamespaceCategory  = "category"
	NamespaceAudience  = "audience"
	NamespaceSource    = "source"
	NamespaceTags      = "tags"
	NamespaceVersion   = "version"
	NamespaceTimestamp = "timestamp"
)

const payloadV1 = "v1:"

// ErrPayload marks a payload that could not be decoded.
var ErrPayload = errors.New("invalid datapoint payload")

type payload struct {
	Content   string   `json:"content"`
	Category  string   `json:"category,omitempty"`
	Audience  []string `json:"audience,omitempty"`
	Source    string   `json:"source,omitempty"`
	Timestamp int64    `json:"ts,omitempty"` // unix nanoseconds
	Version   string   `json:"version,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// EncodePayload serializes content and metadata into the versioned side channel.
func EncodePayload(content string, meta document.Metadata) (string, error) {
	p := payload{
		Content:  content,
		Category: meta.Category,
		Audience: meta.Audience,
		Source:   meta.Source,
		Version:  meta.Version,
		Tags:     meta.Tags,
	}
	if !meta.Timestamp.IsZero() {
		p.Timestamp = meta.Timestamp.UnixNano()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return payloadV1 + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodePayload reverses EncodePayload. Unknown versions are rejected.
func DecodePayload(s string) (string, document.Metadata, error) {
	body, ok := strings.CutPrefix(s, payloadV1)
	if !ok {
		version, _, _ := strings.Cut(s, ":")
		return "", document.Metadata{}, fmt.Errorf("%w: unsupported version %q", ErrPayload, version)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", document.Metadata{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", document.Metadata{}, fmt.Errorf("%w: %w", ErrPayload, err)
	}

	meta := document.Metadata{
		Category: p.Category,
		Audience: p.Audience,
		Source:   p.Source,
		Version:  p.Version,
		Tags:     p.Tags,
	}
	if p.Timestamp != 0 {
		meta.Timestamp = time.Unix(0, p.Timestamp).UTC()
	}
	return p.Content, meta, nil
}

// ToDatapoint converts a document into its wire form.
func ToDatapoint(doc *document.Document) (datapoint.Datapoint, error) {
	meta := doc.Metadata()
	enc, err := EncodePayload(doc.Content(), meta)
	if err != nil {
		return datapoint.Datapoint{}, err
	}

	dp := datapoint.Datapoint{
		ID:            doc.ID(),
		FeatureVector: doc.Embedding(),
		Payload:       enc,
	}
	dp.Restricts = appendRestrict(dp.Restricts, NamespaceCategory, meta.Category)
	dp.Restricts = appendRestrict(dp.Restricts, NamespaceAudience, meta.Audience...)
	dp.Restricts = appendRestrict(dp.Restricts, NamespaceSource, meta.Source)
	dp.Restricts = appendRestrict(dp.Restricts, NamespaceTags, meta.Tags...)
	dp.Restricts = appendRestrict(dp.Restricts, NamespaceVersion, meta.Version)
	if !meta.Timestamp.IsZero() {
		dp.NumericRestricts = append(dp.NumericRestricts, datapoint.NumericRestrict{
			Namespace: NamespaceTimestamp,
			Value:     meta.Timestamp.UnixMicro(),
		})
	}
	return dp, nil
}

// FromDatapoint rebuilds a document from its wire form.
func FromDatapoint(dp *datapoint.Datapoint) (document.Document, error) {
	content, meta, err := DecodePayload(dp.Payload)
	if err != nil {
		return document.Document{}, fmt.Errorf("datapoint %q: %w", dp.ID, err)
	}
	return document.Reconstruct(dp.ID, dp.FeatureVector, content, meta), nil
}

// FilterRestricts translates a filter into query restricts. Timestamp
// restricts are unix microseconds, which a float64 NUMERIC field holds
// exactly; documents keep microsecond timestamps, so rounding the lower bound
// up and the upper bound down keeps the inclusive range exact.
func FilterRestricts(f filter.Filter) ([]datapoint.Restrict, []datapoint.NumericRestrict) {
	var rs []datapoint.Restrict
	rs = appendRestrict(rs, NamespaceCategory, f.Category())
	rs = appendRestrict(rs, NamespaceAudience, f.Audience()...)
	rs = appendRestrict(rs, NamespaceSource, f.Source())
	rs = appendRestrict(rs, NamespaceTags, f.Tags()...)
	rs = appendRestrict(rs, NamespaceVersion, f.Version())

	var ns []datapoint.NumericRestrict
	if from := f.From(); from != nil {
		ns = append(ns, datapoint.NumericRestrict{Namespace: NamespaceTimestamp, Value: ceilMicro(*from), Op: datapoint.OpGreaterEqual})
	}
	if to := f.To(); to != nil {
		ns = append(ns, datapoint.NumericRestrict{Namespace: NamespaceTimestamp, Value: to.UnixMicro(), Op: datapoint.OpLessEqual})
	}
	return rs, ns
}

func appendRestrict(rs []datapoint.Restrict, ns string, values ...string) []datapoint.Restrict {
	allow := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			allow = append(allow, v)
		}
	}
	if len(allow) == 0 {
		return rs
	}
	return append(rs, datapoint.Restrict{Namespace: ns, AllowList: allow})
}

// ceilMicro is t in unix microseconds, rounded up. UnixMicro rounds down.
func ceilMicro(t time.Time) int64 {
	us := t.UnixMicro()
	if t.Nanosecond()%int(time.Microsecond) != 0 {
		us++
	}
	return us
}
