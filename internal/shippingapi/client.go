// Package shippingapi is the HTTP client for the shipping aggregator's v2 API.
package shippingapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"shipsync/internal/model"
	"shipsync/internal/token"
)

// BearerTTL is the lifetime of outbound API tokens.
const BearerTTL = 60 * time.Minute

// APIError is a non-2xx response from the aggregator, body preserved for
// failure notes.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shipping api: status %d: %s", e.Status, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Client talks to the aggregator with short-lived HS256 bearer tokens minted
// from the merchant keypair.
type Client struct {
	BaseURL   string
	AccessKey string
	SecretKey string
	HTTP      *http.Client

	// Now is the token clock; swapped in tests.
	Now func() time.Time
}

func New(baseURL, accessKey, secretKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		AccessKey: accessKey,
		SecretKey: secretKey,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		Now:       time.Now,
	}
}

func (c *Client) bearer() (string, error) {
	return token.Sign(token.Claims{"accessKey": c.AccessKey}, c.SecretKey, BearerTTL, c.Now)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return err
	}
	tok, err := c.bearer()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: rb}
	}
	if out != nil {
		if err := json.Unmarshal(rb, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// GetShippingMethods fetches the carrier/country/method catalog.
func (c *Client) GetShippingMethods(ctx context.Context) (model.Catalog, error) {
	var out model.Catalog
	err := c.do(ctx, http.MethodGet, "/shipping-methods", nil, nil, &out)
	return out, err
}

// GetPickupPoints lists pickup points of one type for a carrier and country.
func (c *Client) GetPickupPoints(ctx context.Context, country, carrier, methodType string) ([]model.APIItem, error) {
	q := url.Values{"countryCode": {country}, "carrierCode": {carrier}, "type": {methodType}}
	var out model.ItemListResponse
	if err := c.do(ctx, http.MethodGet, "/shipping-methods/pickup-points", q, nil, &out); err != nil {
		return nil, err
	}
	return out.PickupPoints, nil
}

// GetCourierServices lists courier services for a carrier and country.
func (c *Client) GetCourierServices(ctx context.Context, country, carrier string) ([]model.APIItem, error) {
	q := url.Values{"countryCode": {country}, "carrierCode": {carrier}}
	var out model.ItemListResponse
	if err := c.do(ctx, http.MethodGet, "/shipping-methods/courier-services", q, nil, &out); err != nil {
		return nil, err
	}
	return out.CourierServices, nil
}

func (c *Client) CreateShipment(ctx context.Context, req model.ShipmentRequest) (model.Shipment, error) {
	var out model.Shipment
	err := c.do(ctx, http.MethodPost, "/shipments", nil, req, &out)
	return out, err
}

func (c *Client) UpdateShipment(ctx context.Context, shipmentID string, req model.ShipmentRequest) (model.Shipment, error) {
	var out model.Shipment
	err := c.do(ctx, http.MethodPatch, "/shipments/"+shipmentID, nil, req, &out)
	return out, err
}

func (c *Client) GetShipment(ctx context.Context, shipmentID string) (model.Shipment, error) {
	var out model.Shipment
	err := c.do(ctx, http.MethodGet, "/shipments/"+shipmentID, nil, nil, &out)
	return out, err
}

// CreateLabelFile asks the aggregator to render labels for shipments; the
// file arrives later via the labelFile.ready webhook.
func (c *Client) CreateLabelFile(ctx context.Context, shipmentIDs []string) (model.LabelFile, error) {
	var out model.LabelFile
	err := c.do(ctx, http.MethodPost, "/label-files", nil, map[string]any{"shipmentIds": shipmentIDs}, &out)
	return out, err
}

func (c *Client) GetLabelFile(ctx context.Context, labelFileID string) (model.LabelFile, error) {
	var out model.LabelFile
	err := c.do(ctx, http.MethodGet, "/label-files/"+labelFileID, nil, nil, &out)
	return out, err
}

func (c *Client) ListWebhooks(ctx context.Context) ([]model.RegisteredWebhook, error) {
	var out struct {
		Webhooks []model.RegisteredWebhook `json:"webhooks"`
	}
	err := c.do(ctx, http.MethodGet, "/webhooks", nil, nil, &out)
	return out.Webhooks, err
}

func (c *Client) RegisterWebhook(ctx context.Context, wh model.RegisteredWebhook) (model.RegisteredWebhook, error) {
	var out model.RegisteredWebhook
	err := c.do(ctx, http.MethodPost, "/webhooks", nil, wh, &out)
	return out, err
}
