package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andersonlima/PedeAi/internal/pkg/env"
)

const defaultStripeAPIBaseURL = "https://api.stripe.com/v1"

var (
	// ErrNoCustomer means the provider has no customer for the email.
	ErrNoCustomer = errors.New("billing: no provider customer for email")
	// ErrNoSubscription means the customer exists but has no subscription.
	ErrNoSubscription = errors.New("billing: customer has no subscription")
)

// ProviderAPI is the slice of the billing provider the reconciler needs.
type ProviderAPI interface {
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error)
	LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*ProviderSubscription, error)
}

// StripeClient talks to the Stripe REST API with the platform's secret
// key. Every call runs under the request context plus the client's own
// HTTP timeout; the reconciliation path must never hang on the provider.
type StripeClient struct {
	SecretKey  string
	APIBaseURL string

	HTTPClient *http.Client
}

func NewStripeClientFromEnv() *StripeClient {
	return &StripeClient{
		SecretKey:  strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("STRIPE_API_BASE_URL", defaultStripeAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// LiveMode reports whether the configured key is a live-mode key.
func (c *StripeClient) LiveMode() bool {
	return strings.HasPrefix(c.SecretKey, "sk_live_")
}

func (c *StripeClient) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errors.New("billing: customer id is required")
	}
	var out Customer
	if err := c.get(ctx, "/customers/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) GetCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	e := strings.TrimSpace(email)
	if e == "" {
		return nil, errors.New("billing: email is required")
	}
	q := url.Values{}
	q.Set("email", e)
	q.Set("limit", "1")

	var out struct {
		Data []Customer `json:"data"`
	}
	if err := c.get(ctx, "/customers", q, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNoCustomer
	}
	return &out.Data[0], nil
}

func (c *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	id := strings.TrimSpace(subscriptionID)
	if id == "" {
		return nil, errors.New("billing: subscription id is required")
	}
	var out ProviderSubscription
	if err := c.get(ctx, "/subscriptions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *StripeClient) LatestSubscriptionForCustomer(ctx context.Context, customerID string) (*ProviderSubscription, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return nil, errors.New("billing: customer id is required")
	}
	q := url.Values{}
	q.Set("customer", id)
	q.Set("status", "all")
	q.Set("limit", "1")

	var out struct {
		Data []ProviderSubscription `json:"data"`
	}
	if err := c.get(ctx, "/subscriptions", q, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, ErrNoSubscription
	}
	return &out.Data[0], nil
}

// GetPrice loads a price for checkout validation (active, mode match).
func (c *StripeClient) GetPrice(ctx context.Context, priceID string) (*ProviderPrice, error) {
	id := strings.TrimSpace(priceID)
	if id == "" {
		return nil, errors.New("billing: price id is required")
	}
	var out ProviderPrice
	if err := c.get(ctx, "/prices/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckoutSessionInput are the fields for creating a hosted checkout.
type CheckoutSessionInput struct {
	PriceID       string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CreateCheckoutSession creates a subscription-mode checkout session and
// returns the hosted redirect URL.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (string, error) {
	if strings.TrimSpace(in.PriceID) == "" {
		return "", errors.New("billing: price id is required")
	}
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("line_items[0][price]", in.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", in.SuccessURL)
	form.Set("cancel_url", in.CancelURL)
	if e := strings.TrimSpace(in.CustomerEmail); e != "" {
		form.Set("customer_email", e)
	}

	var out struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := c.post(ctx, "/checkout/sessions", form, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.URL) == "" {
		return "", errors.New("billing: checkout session returned empty url")
	}
	return out.URL, nil
}

func (c *StripeClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.APIBaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *StripeClient) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *StripeClient) do(req *http.Request, out interface{}) error {
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("billing: STRIPE_SECRET_KEY is not configured")
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("billing: provider request failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
