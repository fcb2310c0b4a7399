package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"rental-docflow/internal/common/database"
	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":         {"type": "keyword"},
      "documentId": {"type": "keyword"},
      "action":     {"type": "keyword"},
      "actorId":    {"type": "keyword"},
      "timestamp":  {"type": "date"},
      "details":    {"type": "object", "enabled": false}
    }
  }
}`

// ESIndexer keeps a searchable copy of the audit log. Postgres stays the
// source of truth.
type ESIndexer struct {
	es    *database.ElasticsearchClient
	index string
}

func NewESIndexer(es *database.ElasticsearchClient, index string) *ESIndexer {
	return &ESIndexer{es: es, index: index}
}

func (i *ESIndexer) EnsureIndex(ctx context.Context) error {
	return i.es.EnsureIndex(ctx, i.index, indexMapping)
}

func (i *ESIndexer) Index(ctx context.Context, entry models.AuditLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: entry.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.es.Client)
	if err != nil {
		return apperr.NewExternalServiceUnavailableError("elasticsearch", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index audit entry %s: %s", entry.ID, res.Status())
	}
	return nil
}

// Query filters the indexed log. Zero values are ignored.
type Query struct {
	DocumentID string
	ActorID    string
	Actions    []models.AuditAction
	From       time.Time
	To         time.Time
	Size       int
}

const defaultSearchSize = 100

func (q Query) size() int {
	if q.Size <= 0 {
		return defaultSearchSize
	}
	return q.Size
}

func (q Query) matches(e models.AuditLogEntry) bool {
	if q.DocumentID != "" && e.DocumentID != q.DocumentID {
		return false
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if len(q.Actions) > 0 {
		found := false
		for _, a := range q.Actions {
			if e.Action == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !q.From.IsZero() && e.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.Timestamp.After(q.To) {
		return false
	}
	return true
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.AuditLogEntry `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func buildSearchBody(q Query) map[string]interface{} {
	filters := []interface{}{}
	if q.DocumentID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"documentId": q.DocumentID}})
	}
	if q.ActorID != "" {
		filters = append(filters, map[string]interface{}{"term": map[string]interface{}{"actorId": q.ActorID}})
	}
	if len(q.Actions) > 0 {
		filters = append(filters, map[string]interface{}{"terms": map[string]interface{}{"action": q.Actions}})
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		rng := map[string]interface{}{}
		if !q.From.IsZero() {
			rng["gte"] = q.From.Format(time.RFC3339Nano)
		}
		if !q.To.IsZero() {
			rng["lte"] = q.To.Format(time.RFC3339Nano)
		}
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"timestamp": rng}})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{
			map[string]interface{}{"timestamp": map[string]interface{}{"order": "asc"}},
		},
	}
}

func (i *ESIndexer) Search(ctx context.Context, q Query) ([]models.AuditLogEntry, error) {
	size := q.size()
	body, err := json.Marshal(buildSearchBody(q))
	if err != nil {
		return nil, fmt.Errorf("encode audit query: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  bytes.NewReader(body),
		Size:  &size,
	}
	res, err := req.Do(ctx, i.es.Client)
	if err != nil {
		return nil, apperr.NewExternalServiceUnavailableError("elasticsearch", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read audit search response: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("audit search failed: %s: %s", res.Status(), string(raw))
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode audit search response: %w", err)
	}
	entries := make([]models.AuditLogEntry, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		entries = append(entries, h.Source)
	}
	return entries, nil
}
