package reputation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DanielFluxman/Alexandria2/config"
	"github.com/DanielFluxman/Alexandria2/models"
)

var httpClient = &http.Client{
	Timeout: 15 * time.Second,
}

// Client meldet Decisions, Findings und Audit-Events an das externe
// Reputations-Ledger. Alle Zustellungen sind best-effort, das Ledger
// ist nie Teil einer Transition-Transaktion.
type Client struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewClient erstellt einen neuen Reputation-Client.
func NewClient(cfg *config.Config, logger *zap.Logger) *Client {
	return &Client{
		Config: cfg,
		Logger: logger,
	}
}

type event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

func (c *Client) post(ctx context.Context, ev event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("reputation payload: %w", err)
	}
	endpoint := strings.TrimRight(c.Config.ReputationURL, "/") + "/v1/events"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reputation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reputation call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("reputation ledger returned status %d", resp.StatusCode)
	}
	return nil
}

// DecisionRecorded meldet eine abgeschlossene Decision.
func (c *Client) DecisionRecorded(ctx context.Context, d models.Decision) error {
	return c.post(ctx, event{Type: "decision", Payload: d})
}

// FindingRecorded meldet ein neues Integrity-Finding.
func (c *Client) FindingRecorded(ctx context.Context, f models.IntegrityFinding) error {
	return c.post(ctx, event{Type: "finding", Payload: f})
}

// Forward meldet ein Audit-Event.
func (c *Client) Forward(ctx context.Context, ev models.AuditEvent) error {
	return c.post(ctx, event{Type: "audit", Payload: ev})
}
