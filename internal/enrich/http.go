package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// endpoints is the static dispatch table from request kind to API path.
var endpoints = [...]string{
	KindSynthesize: "/v1/synthesize",
	KindCategorize: "/v1/categorize",
	KindSentiment:  "/v1/sentiment",
	KindSeverity:   "/v1/severity",
}

// HTTPCollaborator talks JSON over HTTP to the enrichment service.
type HTTPCollaborator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPCollaborator builds a client for baseURL. A nil client gets a
// default with a 30s ceiling; per-call deadlines come from the Gateway.
func NewHTTPCollaborator(baseURL, apiKey string, client *http.Client) *HTTPCollaborator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPCollaborator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
	}
}

func (h *HTTPCollaborator) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResponse, error) {
	var out SynthesizeResponse
	return out, h.do(ctx, req, &out)
}

func (h *HTTPCollaborator) Categorize(ctx context.Context, req CategorizeRequest) (CategorizeResponse, error) {
	var out CategorizeResponse
	return out, h.do(ctx, req, &out)
}

func (h *HTTPCollaborator) Sentiment(ctx context.Context, req SentimentRequest) (SentimentResponse, error) {
	var out SentimentResponse
	return out, h.do(ctx, req, &out)
}

func (h *HTTPCollaborator) Severity(ctx context.Context, req SeverityRequest) (SeverityResponse, error) {
	var out SeverityResponse
	return out, h.do(ctx, req, &out)
}

func (h *HTTPCollaborator) do(ctx context.Context, req Request, out any) error {
	kind := req.Kind()
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", kind, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+endpoints[kind], bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	res, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s request: %w", kind, err)
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%s failed: %s: %s", kind, res.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}
