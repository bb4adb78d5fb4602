// Package knowledge describes knowledge-base records owned by the external
// item store. The engine only reads them to build documents.
package knowledge

import (
	"strings"
	"time"
)

// AgentTagPrefix marks agent-type tags on documents ("agent:donor").
const AgentTagPrefix = "agent:"

// Item is a knowledge-base record as supplied by the item store.
type Item struct {
	ID         string            `yaml:"id" json:"id" validate:"required,max=256"`
	Title      string            `yaml:"title" json:"title" validate:"required"`
	Content    string            `yaml:"content" json:"content" validate:"required,max=163840"`
	Category   string            `yaml:"category" json:"category" validate:"required"`
	AgentTypes []string          `yaml:"agent_types" json:"agentTypes" validate:"dive,required"`
	Audience   []string          `yaml:"audience" json:"audience" validate:"dive,required"`
	Metadata   map[string]string `yaml:"metadata" json:"metadata"`
}

// Well-known Item.Metadata keys.
const (
	MetaSource    = "source"
	MetaVersion   = "version"
	MetaUpdatedAt = "updated_at"
	MetaTags      = "tags"
)

// AgentTag returns the document tag for an agent type.
func AgentTag(agentType string) string {
	return AgentTagPrefix + agentType
}

// EmbeddingText is the text embedded for an item: title, blank line, content.
func (i *Item) EmbeddingText() string {
	if i.Title == "" {
		return i.Content
	}
	return i.Title + "\n\n" + i.Content
}

// Source returns metadata["source"], defaulting to "knowledge_base".
func (i *Item) Source() string {
	if s := i.Metadata[MetaSource]; s != "" {
		return s
	}
	return "knowledge_base"
}

// Version returns metadata["version"], defaulting to "1".
func (i *Item) Version() string {
	if v := i.Metadata[MetaVersion]; v != "" {
		return v
	}
	return "1"
}

// UpdatedAt parses metadata["updated_at"] (RFC 3339); ok is false when absent or malformed.
func (i *Item) UpdatedAt() (time.Time, bool) {
	raw := i.Metadata[MetaUpdatedAt]
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Tags returns agent tags plus comma-separated metadata["tags"].
func (i *Item) Tags() []string {
	tags := make([]string, 0, len(i.AgentTypes))
	for _, a := range i.AgentTypes {
		tags = append(tags, AgentTag(a))
	}
	for _, t := range strings.Split(i.Metadata[MetaTags], ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// SplitEmbeddingText reverses EmbeddingText. Text without a blank line is all body.
func SplitEmbeddingText(text string) (title, body string) {
	if t, b, ok := strings.Cut(text, "\n\n"); ok {
		return t, b
	}
	return "", text
}
