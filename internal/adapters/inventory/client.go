package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

const (
	sessionCacheKey = "inventory.session.token"
	sessionTTL      = 2 * time.Hour
)

// Client is the networked gateway to the remote holding/ordering system.
// The session token is cached through the injected cache so repeated calls
// within the TTL reuse one login.
type Client struct {
	baseURL    string
	username   string
	password   string
	apiVersion string
	http       *http.Client
	cache      ports.CacheInterface
	logger     *logger.Logger
}

var _ ports.InventoryInterface = (*Client)(nil)

func NewClient(cfg config.Config, cache ports.CacheInterface, logger *logger.Logger) *Client {
	return &Client{
		baseURL:    cfg.Inventory.BaseURL,
		username:   cfg.Inventory.Username,
		password:   cfg.Inventory.Password,
		apiVersion: cfg.Inventory.APIVersion,
		http:       &http.Client{Timeout: cfg.InventoryTimeout()},
		cache:      cache,
		logger:     logger,
	}
}

// envelope is the remote response wrapper. Errors ride alongside data, so
// every response is checked for both.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (c *Client) request(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("inventory %s: marshal request: %w", endpoint, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &GatewayError{Endpoint: endpoint, Err: fmt.Errorf("unable to parse response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{Endpoint: endpoint, Status: resp.StatusCode, Remote: env.Error}
	}
	if env.Error != "" {
		return &GatewayError{Endpoint: endpoint, Remote: env.Error}
	}
	if env.Data == nil {
		return &GatewayError{Endpoint: endpoint, Err: fmt.Errorf("no data in response")}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &GatewayError{Endpoint: endpoint, Err: fmt.Errorf("unable to parse data: %w", err)}
		}
	}
	return nil
}

// Available checks the remote status endpoint and compares the expected
// API version.
func (c *Client) Available(ctx context.Context) bool {
	var status struct {
		APIVersion string `json:"api_version"`
	}
	if err := c.request(ctx, http.MethodGet, "/status", nil, &status); err != nil {
		c.logger.Warn("", "inventory_unavailable", "Inventory status check failed", err, nil)
		return false
	}
	return status.APIVersion == c.apiVersion
}

// Login authenticates and returns a session token.
func (c *Client) Login(ctx context.Context) (string, error) {
	var token string
	payload := map[string]string{"username": c.username, "password": c.password}
	if err := c.request(ctx, http.MethodPost, "/login", payload, &token); err != nil {
		return "", err
	}
	c.cache.Set(sessionCacheKey, token, sessionTTL)
	return token, nil
}

// Logout drops the cached session token on both ends.
func (c *Client) Logout(ctx context.Context) error {
	token, ok := c.cache.Get(sessionCacheKey)
	if !ok {
		return nil
	}
	c.cache.Delete(sessionCacheKey)
	payload := map[string]string{"apiKey": token}
	return c.request(ctx, http.MethodPost, "/logout", payload, nil)
}

// session returns the cached token, logging in again when it has expired.
func (c *Client) session(ctx context.Context) (string, error) {
	if token, ok := c.cache.Get(sessionCacheKey); ok {
		return token, nil
	}
	return c.Login(ctx)
}

func (c *Client) VerifyScenes(ctx context.Context, category string, ids []string) (map[string]bool, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"apiKey":      token,
		"datasetName": category,
		"entityIds":   ids,
	}
	verified := make(map[string]bool, len(ids))
	if err := c.request(ctx, http.MethodPost, "/verify", payload, &verified); err != nil {
		return nil, err
	}
	return verified, nil
}

func (c *Client) DownloadURLs(ctx context.Context, category string, ids []string) (map[string]string, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"apiKey":      token,
		"datasetName": category,
		"entityIds":   ids,
	}
	urls := make(map[string]string, len(ids))
	if err := c.request(ctx, http.MethodPost, "/download-urls", payload, &urls); err != nil {
		return nil, err
	}
	return urls, nil
}

func (c *Client) Search(ctx context.Context, category string, start, end time.Time, path, row int) ([]string, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"apiKey":      token,
		"datasetName": category,
		"startDate":   start.Format("2006-01-02"),
		"endDate":     end.Format("2006-01-02"),
		"path":        path,
		"row":         row,
	}
	var results struct {
		Results []string `json:"results"`
	}
	if err := c.request(ctx, http.MethodPost, "/search", payload, &results); err != nil {
		return nil, err
	}
	return results.Results, nil
}

// UpdateOrderStatus pushes one unit's status code. The remote system is
// status-setting, so pushing the same code twice is safe.
func (c *Client) UpdateOrderStatus(ctx context.Context, remoteOrderID string, unitID int64, statusCode string) error {
	token, err := c.session(ctx)
	if err != nil {
		return err
	}
	payload := map[string]interface{}{
		"apiKey":      token,
		"orderNumber": remoteOrderID,
		"unitNumber":  unitID,
		"status":      statusCode,
	}
	return c.request(ctx, http.MethodPost, "/order-status-update", payload, nil)
}

func (c *Client) GetAvailableOrders(ctx context.Context, contactID string) ([]domain.RemoteOrder, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{"apiKey": token}
	if contactID != "" {
		payload["contactId"] = contactID
	}
	var orders []domain.RemoteOrder
	if err := c.request(ctx, http.MethodPost, "/available-orders", payload, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, remoteOrderID string) (*domain.RemoteOrder, error) {
	token, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"apiKey":      token,
		"orderNumber": remoteOrderID,
	}
	var order domain.RemoteOrder
	if err := c.request(ctx, http.MethodPost, "/order-status", payload, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetUserDetails(ctx context.Context, contactID string) (string, string, error) {
	token, err := c.session(ctx)
	if err != nil {
		return "", "", err
	}
	payload := map[string]interface{}{
		"apiKey":    token,
		"contactId": contactID,
	}
	var details struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := c.request(ctx, http.MethodPost, "/user", payload, &details); err != nil {
		return "", "", err
	}
	return details.Username, details.Email, nil
}
