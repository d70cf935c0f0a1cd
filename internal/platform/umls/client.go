package umls

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/yungbote/medgraph-backend/internal/config"
	"github.com/yungbote/medgraph-backend/internal/platform/httpx"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/platform/redisdb"
)

// ConceptDetails is the canonical record for one CUI from the terminology
// service.
type ConceptDetails struct {
	CUI           string   `json:"cui"`
	Name          string   `json:"name"`
	SemanticTypes []string `json:"semantic_types"`
	Definitions   []string `json:"definitions"`
}

type RelationKind string

const (
	RelationBroader  RelationKind = "broader"
	RelationNarrower RelationKind = "narrower"
)

// ConceptRelation is one hierarchy edge surfaced by the terminology service.
// Only broader/narrower relations cross this boundary; every other relation
// label is dropped here, not by callers.
type ConceptRelation struct {
	CUI        string
	RelatedCUI string
	Kind       RelationKind
}

// Client fetches concept details and hierarchy relations from the UMLS
// Terminology Services REST API.
//
// Failure policy: 401 fails fast with ragerr.KindAuthFailed so batch callers
// can stop issuing lookups; timeouts and 5xx degrade to absent/empty after
// retries. A client without an API key is permanently in degraded mode.
type Client struct {
	cfg        config.UMLSConfig
	httpClient *http.Client
	cache      *redisdb.Cache
	maxRetries int
	available  bool
	log        *logger.Logger
}

func New(cfg config.UMLSConfig, cache *redisdb.Cache, log *logger.Logger) *Client {
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      cache,
		maxRetries: 2,
		log:        log.With("client", "UMLS"),
	}
	if cfg.APIKey == "" {
		c.log.Warn("UMLS API key not configured; concept details disabled")
		return c
	}
	c.available = true
	return c
}

// Available reports whether the client can reach the terminology service at
// all. Callers may use it to skip concept annotation wholesale.
func (c *Client) Available() bool { return c.available }

// GetDetails returns the canonical record for a CUI, or (nil, nil) when the
// concept is unknown or the service is transiently unavailable. Definitions
// are fetched separately; their failure never fails the details call.
func (c *Client) GetDetails(ctx context.Context, cui string) (*ConceptDetails, error) {
	if !c.available {
		return nil, nil
	}

	if raw, ok := c.cache.Get(ctx, "umls:details:"+cui); ok {
		var cached ConceptDetails
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
	}

	var body struct {
		Result struct {
			Name          string `json:"name"`
			SemanticTypes []struct {
				Name string `json:"name"`
			} `json:"semanticTypes"`
		} `json:"result"`
	}
	err := c.get(ctx, fmt.Sprintf("/content/current/CUI/%s", url.PathEscape(cui)), &body)
	if err != nil {
		if ragerr.IsKind(err, ragerr.KindAuthFailed) {
			return nil, err
		}
		c.log.Warn("concept details unavailable", "cui", cui, "error", err)
		return nil, nil
	}

	details := &ConceptDetails{
		CUI:  cui,
		Name: body.Result.Name,
	}
	for _, st := range body.Result.SemanticTypes {
		if st.Name != "" {
			details.SemanticTypes = append(details.SemanticTypes, st.Name)
		}
	}
	details.Definitions = c.getDefinitions(ctx, cui)

	if raw, err := json.Marshal(details); err == nil {
		c.cache.Set(ctx, "umls:details:"+cui, raw)
	}
	return details, nil
}

func (c *Client) getDefinitions(ctx context.Context, cui string) []string {
	var body struct {
		Result []struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	err := c.get(ctx, fmt.Sprintf("/content/current/CUI/%s/definitions", url.PathEscape(cui)), &body)
	if err != nil {
		// Many CUIs legitimately have no definitions; the API answers 404.
		c.log.Debug("no definitions", "cui", cui, "error", err)
		return nil
	}
	var defs []string
	for _, item := range body.Result {
		if item.Value != "" {
			defs = append(defs, item.Value)
		}
	}
	return defs
}

// GetRelations returns the broader/narrower relations of a CUI. Transient
// failures degrade to an empty slice.
func (c *Client) GetRelations(ctx context.Context, cui string) ([]ConceptRelation, error) {
	if !c.available {
		return nil, nil
	}

	var body struct {
		Result []struct {
			RelationLabel string `json:"relationLabel"`
			RelatedID     string `json:"relatedId"`
		} `json:"result"`
	}
	err := c.get(ctx, fmt.Sprintf("/content/current/CUI/%s/relations", url.PathEscape(cui)), &body)
	if err != nil {
		if ragerr.IsKind(err, ragerr.KindAuthFailed) {
			return nil, err
		}
		c.log.Debug("relations unavailable", "cui", cui, "error", err)
		return nil, nil
	}

	var rels []ConceptRelation
	for _, item := range body.Result {
		related := lastPathSegment(item.RelatedID)
		if related == "" {
			continue
		}
		switch item.RelationLabel {
		case "RB":
			rels = append(rels, ConceptRelation{CUI: cui, RelatedCUI: related, Kind: RelationBroader})
		case "RN":
			rels = append(rels, ConceptRelation{CUI: cui, RelatedCUI: related, Kind: RelationNarrower})
		}
	}
	return rels, nil
}

type umlsHTTPError struct {
	StatusCode int
	Body       string
}

func (e *umlsHTTPError) Error() string {
	return fmt.Sprintf("umls http %d: %s", e.StatusCode, e.Body)
}

func (e *umlsHTTPError) HTTPStatusCode() int { return e.StatusCode }

func (c *Client) get(ctx context.Context, path string, out any) error {
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, err := c.getOnce(ctx, path, out)
		if err == nil {
			return nil
		}

		var httpErr *umlsHTTPError
		if he, ok := err.(*umlsHTTPError); ok {
			httpErr = he
		}
		if httpErr != nil && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
			return ragerr.New(ragerr.KindAuthFailed, err)
		}
		if !httpx.IsRetryableError(err) || attempt == c.maxRetries {
			return ragerr.New(ragerr.KindTransientRemote, err)
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 5*time.Second))
		c.log.Debug("UMLS request retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err,
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *Client) getOnce(ctx context.Context, path string, out any) (*http.Response, error) {
	u := fmt.Sprintf("%s%s?apiKey=%s", c.cfg.BaseURL, path, url.QueryEscape(c.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := make([]byte, 0, 512)
		buf := make([]byte, 512)
		if n, _ := resp.Body.Read(buf); n > 0 {
			body = buf[:n]
		}
		return resp, &umlsHTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out == nil {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, fmt.Errorf("umls decode error: %w", err)
	}
	return resp, nil
}

// UTS relation feeds return relatedId as a full content URL.
func lastPathSegment(s string) string {
	if s == "" {
		return ""
	}
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return s[i+1:]
		}
	}
	return s
}
