package onlinecache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"sceneflow/internal/core/domain"
	"sceneflow/internal/core/ports"
	"sceneflow/pkg/config"
	"sceneflow/pkg/logger"
)

// Client talks to the distribution cache admin endpoint, which exposes the
// finished-product tree by order id.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *logger.Logger
}

var _ ports.OnlineCacheInterface = (*Client)(nil)

func NewClient(cfg config.Config, logger *logger.Logger) *Client {
	return &Client{
		baseURL: cfg.OnlineCache.AdminURL,
		http:    &http.Client{Timeout: cfg.OnlineCacheTimeout()},
		logger:  logger,
	}
}

func (c *Client) orderURL(orderID string, parts ...string) string {
	u := c.baseURL + "/orders/" + url.PathEscape(orderID)
	for _, p := range parts {
		u += "/" + url.PathEscape(p)
	}
	return u
}

func (c *Client) Exists(ctx context.Context, orderID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.orderURL(orderID), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("online cache unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("online cache exists check failed: status %d", resp.StatusCode)
	}
}

func (c *Client) Delete(ctx context.Context, orderID string) error {
	return c.delete(ctx, c.orderURL(orderID))
}

func (c *Client) DeleteFile(ctx context.Context, orderID, filename string) error {
	return c.delete(ctx, c.orderURL(orderID, "files", filename))
}

func (c *Client) delete(ctx context.Context, u string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("online cache unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("online cache delete failed: status %d", resp.StatusCode)
	}
	return nil
}

// FileSize stats one finished product. Processing occasionally reports
// completion before the artifact is visible, so callers must tolerate a
// not-found here.
func (c *Client) FileSize(ctx context.Context, orderID, filename string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.orderURL(orderID, "files", filename), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("online cache unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrFileNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("online cache stat failed: status %d", resp.StatusCode)
	}

	size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("online cache stat: bad content length: %w", err)
	}
	return size, nil
}

func (c *Client) Capacity(ctx context.Context) (domain.Capacity, error) {
	var capacity domain.Capacity

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/capacity", nil)
	if err != nil {
		return capacity, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return capacity, fmt.Errorf("online cache unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capacity, fmt.Errorf("online cache capacity failed: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&capacity); err != nil {
		return capacity, fmt.Errorf("online cache capacity: bad response: %w", err)
	}
	return capacity, nil
}
