package similarity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
)

var httpClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Client fragt den Embedding-Dienst nach ähnlichen publizierten Scrolls.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient erstellt einen neuen Similarity-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		Config: cfg,
		Logger: logger,
	}
}

type matchesResponse struct {
	Matches []collaborators.SimilarityMatch `json:"matches"`
}

// TopMatches liefert die limit ähnlichsten Scrolls zu einem Manuskript,
// absteigend nach Similarity sortiert.
func (c *Client) TopMatches(ctx context.Context, contentRef string, limit int) ([]collaborators.SimilarityMatch, error) {
	params := url.Values{}
	params.Set("ref", contentRef)
	params.Set("limit", strconv.Itoa(limit))
	endpoint := fmt.Sprintf("%s/v1/similar?%s",
		strings.TrimRight(c.Config.SimilarityURL, "/"), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("similarity request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("similarity call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("similarity service returned status %d", resp.StatusCode)
	}

	var body matchesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("similarity response: %w", err)
	}
	return body.Matches, nil
}
