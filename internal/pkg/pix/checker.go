package pix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/andersonlima/PedeAi/app/models"
	"github.com/andersonlima/PedeAi/internal/pkg/env"
)

// NewSettlementCheckerFromEnv selects the settlement source. With
// PIX_SETTLEMENT_URL set it queries the PSP; otherwise a local stub is
// used that confirms charges after a fixed delay, which is only
// acceptable in development.
func NewSettlementCheckerFromEnv() SettlementChecker {
	if url := env.GetEnv("PIX_SETTLEMENT_URL", ""); url != "" {
		return &httpSettlementChecker{
			baseURL: strings.TrimRight(url, "/"),
			apiKey:  env.GetEnv("PIX_SETTLEMENT_API_KEY", ""),
			client:  &http.Client{Timeout: 10 * time.Second},
		}
	}
	log.Println("[PIX] PIX_SETTLEMENT_URL not set, using development settlement stub")
	return &stubSettlementChecker{settleAfter: 30 * time.Second, now: time.Now}
}

// httpSettlementChecker asks the PSP whether a charge with the given
// txid has settled.
type httpSettlementChecker struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (c *httpSettlementChecker) Confirmed(ctx context.Context, tx *models.PixTransaction) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+tx.ID, nil)
	if err != nil {
		return false, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("settlement API returned status %d", resp.StatusCode)
	}
	var body struct {
		Paid bool `json:"paid"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return false, fmt.Errorf("decode settlement response: %w", err)
	}
	return body.Paid, nil
}

// stubSettlementChecker confirms every charge once it is older than
// settleAfter. Development only.
type stubSettlementChecker struct {
	settleAfter time.Duration
	now         func() time.Time
}

func (c *stubSettlementChecker) Confirmed(ctx context.Context, tx *models.PixTransaction) (bool, error) {
	return c.now().Sub(tx.CreatedAt) >= c.settleAfter, nil
}
