package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielFluxman/Alexandria2/collaborators"
	"github.com/DanielFluxman/Alexandria2/config"
)

var httpClient = &http.Client{
	Timeout: 15 * time.Second,
}

// Client spricht die Metadaten-API des Content-Stores an.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient erstellt einen neuen Content-Store-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		Config: cfg,
		Logger: logger,
	}
}

// GetContent holt die Metadaten zu einem ContentRef. Ein unbekannter Ref
// ist kein Fehler, sondern wird als Available=false gemeldet.
func (c *Client) GetContent(ctx context.Context, contentRef string) (collaborators.ContentInfo, error) {
	endpoint := fmt.Sprintf("%s/v1/content/%s/meta",
		strings.TrimRight(c.Config.ContentStoreURL, "/"), url.PathEscape(contentRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return collaborators.ContentInfo{}, fmt.Errorf("content store request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return collaborators.ContentInfo{}, fmt.Errorf("content store call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return collaborators.ContentInfo{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return collaborators.ContentInfo{}, fmt.Errorf("content store returned status %d", resp.StatusCode)
	}

	var info collaborators.ContentInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return collaborators.ContentInfo{}, fmt.Errorf("content store response: %w", err)
	}
	info.Available = true
	return info, nil
}
