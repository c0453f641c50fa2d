package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kibitz-hq/kibitz/internal/history"
)

// DefaultIndex is used when Options.Index is empty.
const DefaultIndex = "kibitz-evaluations"

// Options describe one OpenSearch destination. Username and Password are
// optional; when set, every request carries HTTP basic auth. The same
// sink works against Elasticsearch, the _doc API is shared.
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
}

// Sink indexes evaluation events over the OpenSearch REST API. Documents
// land at baseURL/index/_doc.
type Sink struct {
	client   *http.Client
	baseURL  string
	index    string
	username string
	password string
}

func New(opts Options) *Sink {
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	return &Sink{
		client:   &http.Client{Timeout: 5 * time.Second},
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		index:    opts.Index,
		username: opts.Username,
		password: opts.Password,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(document(e))
	if err != nil {
		return fmt.Errorf("opensearch sink encode: %w", err)
	}

	url := fmt.Sprintf("%s/%s/_doc", s.baseURL, s.index)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.username != "" {
		req.SetBasicAuth(s.username, s.password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections held by the HTTP client.
func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// document flattens an event for indexing. sql.Null types do not marshal
// as plain values, so the optional mate distance is inlined; Lines is
// already JSON and is embedded raw.
func document(e history.Event) map[string]any {
	doc := map[string]any{
		"type":        string(e.Type),
		"occurred_at": e.OccurredAt,
		"record_id":   e.Record.ID,
		"engine":      e.Record.Engine,
		"fen":         e.Record.FEN,
		"depth":       e.Record.Depth,
		"outcome":     e.Record.Outcome,
		"best_move":   e.Record.BestMove,
		"score_cp":    e.Record.ScoreCP,
		"duration_ms": e.Record.DurationMS,
	}
	if e.Record.MateIn.Valid {
		doc["mate_in"] = e.Record.MateIn.Int64
	}
	if e.Record.Lines != "" {
		doc["lines"] = json.RawMessage(e.Record.Lines)
	}
	return doc
}
