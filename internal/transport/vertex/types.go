package vertex

import (
	"encoding/json"

	"github.com/pawrescue/kbengine/internal/domain/datapoint"
)

// payloadKey is the embeddingMetadata field carrying the document payload.
const payloadKey = "payload"

type restrict struct {
	Namespace string   `json:"namespace"`
	AllowList []string `json:"allowList,omitempty"`
	DenyList  []string `json:"denyList,omitempty"`
}

type numericRestrict struct {
	Namespace string `json:"namespace"`
	ValueInt  int64  `json:"valueInt,string"`
	Op        string `json:"op,omitempty"`
}

type indexDatapoint struct {
	DatapointID       string            `json:"datapointId"`
	FeatureVector     []float32         `json:"featureVector"`
	Restricts         []restrict        `json:"restricts,omitempty"`
	NumericRestricts  []numericRestrict `json:"numericRestricts,omitempty"`
	EmbeddingMetadata map[string]any    `json:"embeddingMetadata,omitempty"`
}

type upsertRequest struct {
	Datapoints []indexDatapoint `json:"datapoints"`
}

type removeRequest struct {
	DatapointIDs []string `json:"datapointIds"`
}

type findQuery struct {
	Datapoint     indexDatapoint `json:"datapoint"`
	NeighborCount int            `json:"neighborCount"`
}

type findRequest struct {
	DeployedIndexID     string      `json:"deployedIndexId"`
	Queries             []findQuery `json:"queries"`
	ReturnFullDatapoint bool        `json:"returnFullDatapoint"`
}

type findResponse struct {
	NearestNeighbors []struct {
		ID        string `json:"id"`
		Neighbors []struct {
			Datapoint indexDatapoint `json:"datapoint"`
			Distance  float64        `json:"distance"`
		} `json:"neighbors"`
	} `json:"nearestNeighbors"`
}

type readRequest struct {
	DeployedIndexID string   `json:"deployedIndexId"`
	IDs             []string `json:"ids"`
}

type readResponse struct {
	Datapoints []indexDatapoint `json:"datapoints"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func toWire(dp *datapoint.Datapoint) indexDatapoint {
	w := indexDatapoint{
		DatapointID:   dp.ID,
		FeatureVector: dp.FeatureVector,
	}
	for _, r := range dp.Restricts {
		w.Restricts = append(w.Restricts, restrict(r))
	}
	for _, n := range dp.NumericRestricts {
		w.NumericRestricts = append(w.NumericRestricts, numericRestrict{
			Namespace: n.Namespace,
			ValueInt:  n.Value,
			Op:        string(n.Op),
		})
	}
	if dp.Payload != "" {
		w.EmbeddingMetadata = map[string]any{payloadKey: dp.Payload}
	}
	return w
}

func fromWire(w *indexDatapoint) datapoint.Datapoint {
	dp := datapoint.Datapoint{
		ID:            w.DatapointID,
		FeatureVector: w.FeatureVector,
	}
	for _, r := range w.Restricts {
		dp.Restricts = append(dp.Restricts, datapoint.Restrict(r))
	}
	for _, n := range w.NumericRestricts {
		dp.NumericRestricts = append(dp.NumericRestricts, datapoint.NumericRestrict{
			Namespace: n.Namespace,
			Value:     n.ValueInt,
			Op:        datapoint.NumericOp(n.Op),
		})
	}
	if p, ok := w.EmbeddingMetadata[payloadKey].(string); ok {
		dp.Payload = p
	}
	return dp
}

func decodeError(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
