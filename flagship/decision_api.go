package flagship

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v5"
)

const (
	sdkClient  = "go"
	sdkVersion = "1.0.0"

	// maxErrorBody bounds how much of an error response is kept in APIError.
	maxErrorBody = 512
)

type decisionPayload struct {
	VisitorID      string         `json:"visitorId"`
	AnonymousID    *string        `json:"anonymousId"`
	Context        map[string]any `json:"context"`
	TriggerHit     bool           `json:"trigger_hit"`
	VisitorConsent bool           `json:"visitor_consent"`
}

type campaignsResponse struct {
	VisitorID string     `json:"visitorId"`
	Campaigns []campaign `json:"campaigns"`
}

type campaign struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Type             string    `json:"type"`
	VariationGroupID string    `json:"variationGroupId"`
	Variation        variation `json:"variation"`
}

type variation struct {
	ID            string `json:"id"`
	Reference     bool   `json:"reference"`
	Modifications struct {
		Type  string         `json:"type"`
		Value map[string]any `json:"value"`
	} `json:"modifications"`
}

// apiDecider fetches decisions from the Flagship Decision API.
type apiDecider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries uint
	newBackOff func() *backoff.ExponentialBackOff
}

func newAPIDecider(cfg Config) *apiDecider {
	return &apiDecider{
		baseURL:    strings.TrimRight(cfg.DecisionAPIURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		newBackOff: func() *backoff.ExponentialBackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.RetryInterval
			return b
		},
	}
}

// Decide posts the visitor to the campaigns endpoint, retrying transient
// failures with exponential backoff.
func (d *apiDecider) Decide(ctx context.Context, req DecisionRequest) (map[string]Flag, error) {
	body, err := json.Marshal(decisionPayload{
		VisitorID:      req.VisitorID,
		Context:        req.Context,
		TriggerHit:     false,
		VisitorConsent: req.HasConsented,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal decision request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/campaigns?exposeAllKeys=true", d.baseURL, req.EnvID)
	attempt := 0

	operation := func() (*campaignsResponse, error) {
		attempt++
		if attempt > 1 && req.Log != nil {
			req.Log.Warning(fmt.Sprintf("retrying decision request (attempt %d)", attempt), tagFetch)
		}
		resp, err := d.post(ctx, url, body)
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(d.newBackOff()),
		backoff.WithMaxTries(d.maxRetries+1),
	)
	if err != nil {
		return nil, err
	}
	return resp.flags(), nil
}

func (d *apiDecider) post(ctx context.Context, url string, body []byte) (*campaignsResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", d.apiKey)
	httpReq.Header.Set("x-sdk-client", sdkClient)
	httpReq.Header.Set("x-sdk-version", sdkVersion)

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var out campaignsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return &out, nil
}

// flags merges campaign modifications; the first campaign defining a key wins.
func (r *campaignsResponse) flags() map[string]Flag {
	out := make(map[string]Flag)
	for _, c := range r.Campaigns {
		for key, value := range c.Variation.Modifications.Value {
			if _, seen := out[key]; seen {
				continue
			}
			out[key] = NewFlag(key, value, FlagMetadata{
				CampaignID:       c.ID,
				CampaignName:     c.Name,
				CampaignType:     c.Type,
				Slug:             c.Slug,
				VariationGroupID: c.VariationGroupID,
				VariationID:      c.Variation.ID,
				IsReference:      c.Variation.Reference,
			})
		}
	}
	return out
}
