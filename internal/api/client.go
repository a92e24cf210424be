package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ikkim/cartsync/internal/app/model"
)

// CartAPI is the remote cart contract the engine confirms mutations
// against. The server owns the authoritative cart.
type CartAPI interface {
	FetchCart(ctx context.Context) (*model.RemoteCart, error)
	AddItem(ctx context.Context, req AddItemRequest) error
	UpdateItem(ctx context.Context, productID string, quantity int) error
	RemoveItem(ctx context.Context, productID string) error
	ClearCart(ctx context.Context) error
}

// AddItemRequest is the POST /cart/items body.
type AddItemRequest struct {
	ProductID       string                 `json:"product_id"`
	Quantity        int                    `json:"quantity"`
	SelectedOptions []model.SelectedOption `json:"selected_options,omitempty"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// Envelope is the uniform response wrapper every endpoint returns.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Config holds the HTTP client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP implementation of CartAPI.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a Cart API client with the given configuration.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("invalid config: base URL is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// FetchCart retrieves the authoritative cart.
func (c *Client) FetchCart(ctx context.Context) (*model.RemoteCart, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/cart", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cart: %w", err)
	}

	var cart model.RemoteCart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cart response: %w", err)
	}
	return &cart, nil
}

// AddItem confirms an item addition.
func (c *Client) AddItem(ctx context.Context, req AddItemRequest) error {
	if _, err := c.doRequest(ctx, http.MethodPost, "/cart/items", req); err != nil {
		return fmt.Errorf("failed to add cart item: %w", err)
	}
	return nil
}

// UpdateItem confirms a quantity change.
func (c *Client) UpdateItem(ctx context.Context, productID string, quantity int) error {
	path := "/cart/items/" + productID
	if _, err := c.doRequest(ctx, http.MethodPatch, path, updateItemRequest{Quantity: quantity}); err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return nil
}

// RemoveItem confirms an item removal.
func (c *Client) RemoveItem(ctx context.Context, productID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/cart/items/"+productID, nil); err != nil {
		return fmt.Errorf("failed to remove cart item: %w", err)
	}
	return nil
}

// ClearCart confirms a full clear.
func (c *Client) ClearCart(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/cart", nil); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = fmt.Sprintf("server returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("cart api rejected request: %s", msg)
	}

	return env.Data, nil
}
