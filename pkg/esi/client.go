package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/guarzo/wanderer-kills/pkg/config"
	"github.com/guarzo/wanderer-kills/pkg/handlers"
)

// Character is the metadata subset the enricher needs.
type Character struct {
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
}

// Corporation is the metadata subset the enricher needs.
type Corporation struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// Alliance is the metadata subset the enricher needs.
type Alliance struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker"`
}

// ShipType is the universe/types subset the enricher needs.
type ShipType struct {
	Name    string `json:"name"`
	GroupID int64  `json:"group_id"`
}

// SolarSystem is the universe/systems subset the enricher needs.
type SolarSystem struct {
	Name           string  `json:"name"`
	SecurityStatus float64 `json:"security_status"`
}

// MetadataClient resolves integer ids into named entities.
type MetadataClient interface {
	GetCharacter(ctx context.Context, id int64) (*Character, error)
	GetCorporation(ctx context.Context, id int64) (*Corporation, error)
	GetAlliance(ctx context.Context, id int64) (*Alliance, error)
	GetShipType(ctx context.Context, id int64) (*ShipType, error)
	GetSolarSystem(ctx context.Context, id int64) (*SolarSystem, error)
}

// KillmailClient fetches a full killmail by id and hash.
type KillmailClient interface {
	GetKillmail(ctx context.Context, killmailID int64, hash string) (json.RawMessage, error)
}

// Client talks to the upstream metadata API.
type Client struct {
	httpClient  *http.Client
	retryClient RetryClient
	baseURL     string
	userAgent   string
	maxRetries  int
}

// NewClient creates an ESI client from configuration. Outbound requests
// carry otel spans and propagate trace context; failures retry per the
// enrichment retry budget.
func NewClient(cfg config.ESIConfig, retry config.EnrichmentConfig) *Client {
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}

	return &Client{
		httpClient:  httpClient,
		retryClient: NewDefaultRetryClient(httpClient, retry.RetryBase, retry.RetryFactor),
		baseURL:     cfg.BaseURL,
		userAgent:   cfg.UserAgent,
		maxRetries:  retry.MaxRetries,
	}
}

// GetCharacter fetches character metadata.
func (c *Client) GetCharacter(ctx context.Context, id int64) (*Character, error) {
	var character Character
	if err := c.getJSON(ctx, "GetCharacter", fmt.Sprintf("/characters/%d/", id), id, &character); err != nil {
		return nil, err
	}
	return &character, nil
}

// GetCorporation fetches corporation metadata.
func (c *Client) GetCorporation(ctx context.Context, id int64) (*Corporation, error) {
	var corporation Corporation
	if err := c.getJSON(ctx, "GetCorporation", fmt.Sprintf("/corporations/%d/", id), id, &corporation); err != nil {
		return nil, err
	}
	return &corporation, nil
}

// GetAlliance fetches alliance metadata.
func (c *Client) GetAlliance(ctx context.Context, id int64) (*Alliance, error) {
	var alliance Alliance
	if err := c.getJSON(ctx, "GetAlliance", fmt.Sprintf("/alliances/%d/", id), id, &alliance); err != nil {
		return nil, err
	}
	return &alliance, nil
}

// GetShipType fetches a type from the universe endpoint.
func (c *Client) GetShipType(ctx context.Context, id int64) (*ShipType, error) {
	var shipType ShipType
	if err := c.getJSON(ctx, "GetShipType", fmt.Sprintf("/universe/types/%d/", id), id, &shipType); err != nil {
		return nil, err
	}
	return &shipType, nil
}

// GetSolarSystem fetches a solar system from the universe endpoint.
func (c *Client) GetSolarSystem(ctx context.Context, id int64) (*SolarSystem, error) {
	var system SolarSystem
	if err := c.getJSON(ctx, "GetSolarSystem", fmt.Sprintf("/universe/systems/%d/", id), id, &system); err != nil {
		return nil, err
	}
	return &system, nil
}

// GetKillmail fetches a full killmail by id and hash. The raw body is
// returned so the ingest pipeline can run it through the same normalize
// and decode path as streamed killmails.
func (c *Client) GetKillmail(ctx context.Context, killmailID int64, hash string) (json.RawMessage, error) {
	tracer := otel.Tracer("esi")
	ctx, span := tracer.Start(ctx, "GetKillmail",
		trace.WithAttributes(
			attribute.Int64("killmail_id", killmailID),
			attribute.String("hash", hash),
		))
	defer span.End()

	body, err := c.get(ctx, fmt.Sprintf("%s/killmails/%d/%s/", c.baseURL, killmailID, hash))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Killmail fetch failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "Killmail fetched successfully")
	return json.RawMessage(body), nil
}

func (c *Client) getJSON(ctx context.Context, spanName, path string, id int64, out any) error {
	tracer := otel.Tracer("esi")
	ctx, span := tracer.Start(ctx, spanName,
		trace.WithAttributes(attribute.Int64("entity_id", id)))
	defer span.End()

	body, err := c.get(ctx, c.baseURL+path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Request failed")
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to decode response")
		return handlers.TransportError("failed to decode upstream response", err)
	}

	span.SetStatus(codes.Ok, "Fetched successfully")
	return nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, handlers.InternalError("failed to create request", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.retryClient.DoWithRetry(ctx, req, c.maxRetries)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, handlers.NotFoundError("upstream entity not found")
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, handlers.TransportError(
			fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, string(body)), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, handlers.TransportError("failed to read upstream response", err)
	}
	return body, nil
}
