package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/socialboost/panel/internal/models"
)

// Client speaks the conventional SMM panel API: a single endpoint taking
// form-encoded requests with a key and an action, answering JSON.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

type addResponse struct {
	Order json.Number `json:"order"`
	Error string      `json:"error"`
}

type statusResponse struct {
	Status       string      `json:"status"`
	StartCount   json.Number `json:"start_count"`
	CurrentCount json.Number `json:"current_count"`
	Remains      json.Number `json:"remains"`
	Error        string      `json:"error"`
}

type serviceResponse struct {
	Service     json.Number `json:"service"`
	Name        string      `json:"name"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Rate        json.Number `json:"rate"`
	Min         json.Number `json:"min"`
	Max         json.Number `json:"max"`
}

// PlaceOrder submits an order upstream and returns the provider's order
// reference.
func (c *Client) PlaceOrder(ctx context.Context, p models.Provider, providerServiceID, link string, quantity int) (string, error) {
	form := url.Values{
		"key":      {p.APIKey},
		"action":   {"add"},
		"service":  {providerServiceID},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}

	var resp addResponse
	if err := c.do(ctx, p.APIURL, form, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	if resp.Order.String() == "" {
		return "", fmt.Errorf("%w: no order id in response", ErrRejected)
	}
	return resp.Order.String(), nil
}

// CheckStatus asks the provider what became of a dispatched order.
func (c *Client) CheckStatus(ctx context.Context, p models.Provider, providerOrderID string) (OrderStatus, error) {
	form := url.Values{
		"key":    {p.APIKey},
		"action": {"status"},
		"order":  {providerOrderID},
	}

	var resp statusResponse
	if err := c.do(ctx, p.APIURL, form, &resp); err != nil {
		return OrderStatus{}, err
	}
	if resp.Error != "" {
		return OrderStatus{}, fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}

	return OrderStatus{
		Status:       NormalizeStatus(resp.Status),
		StartCount:   optionalInt(resp.StartCount),
		CurrentCount: optionalInt(resp.CurrentCount),
		Remains:      optionalInt(resp.Remains),
	}, nil
}

// Services fetches the provider's catalog, used to sync the local one.
func (c *Client) Services(ctx context.Context, p models.Provider) ([]CatalogEntry, error) {
	form := url.Values{
		"key":    {p.APIKey},
		"action": {"services"},
	}

	var resp []serviceResponse
	if err := c.do(ctx, p.APIURL, form, &resp); err != nil {
		return nil, err
	}

	entries := make([]CatalogEntry, 0, len(resp))
	for _, s := range resp {
		entries = append(entries, CatalogEntry{
			ServiceID:   s.Service.String(),
			Name:        s.Name,
			Category:    s.Category,
			Description: s.Description,
			Rate:        s.Rate.String(),
			Min:         intOrZero(s.Min),
			Max:         intOrZero(s.Max),
		})
	}
	return entries, nil
}

func (c *Client) do(ctx context.Context, apiURL string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func optionalInt(n json.Number) *int {
	if n.String() == "" {
		return nil
	}
	v, err := n.Int64()
	if err != nil {
		return nil
	}
	i := int(v)
	return &i
}

func intOrZero(n json.Number) int {
	v, err := n.Int64()
	if err != nil {
		return 0
	}
	return int(v)
}
