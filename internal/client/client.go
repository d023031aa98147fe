// internal/client/client.go

// Package client talks to a running collectortrack server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"collectortrack/internal/circulation"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for the server at baseURL, e.g. http://localhost:8082.
// A nil httpClient gets a traced client with a 10s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

type movementRequest struct {
	Action           string   `json:"action"`
	DeviceID         string   `json:"device_id,omitempty"`
	OperatorID       string   `json:"operator_id,omitempty"`
	TestPerformed    bool     `json:"test_performed"`
	DefectDetected   bool     `json:"defect_detected"`
	FlagForRepair    bool     `json:"flag_for_repair"`
	Note             string   `json:"note,omitempty"`
	ResponsibleParty string   `json:"responsible_party,omitempty"`
	RepairSentDate   string   `json:"repair_sent_date,omitempty"`
	RepairReturnDate string   `json:"repair_return_date,omitempty"`
	TicketNumber     string   `json:"ticket_number,omitempty"`
	Defects          []string `json:"defects,omitempty"`
}

type movementResponse struct {
	OK           bool                      `json:"ok"`
	Message      string                    `json:"message"`
	Code         circulation.RejectionCode `json:"code"`
	Confirmation *circulation.Confirmation `json:"confirmation"`
}

// Process submits a movement. Business refusals come back as
// *circulation.Rejection, server or transport failures wrap
// circulation.ErrInfrastructure, so callers can treat the client like a
// local circulation.Service.
func (c *Client) Process(ctx context.Context, req circulation.Request) (circulation.Confirmation, error) {
	body, err := json.Marshal(movementRequest{
		Action:           req.Action,
		DeviceID:         req.DeviceID,
		OperatorID:       req.OperatorID,
		TestPerformed:    req.TestPerformed,
		DefectDetected:   req.DefectDetected,
		FlagForRepair:    req.FlagForRepair,
		Note:             req.Note,
		ResponsibleParty: req.ResponsibleParty,
		RepairSentDate:   req.RepairSentDate,
		RepairReturnDate: req.RepairReturnDate,
		TicketNumber:     req.TicketNumber,
		Defects:          req.Defects,
	})
	if err != nil {
		return circulation.Confirmation{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/movements", bytes.NewReader(body))
	if err != nil {
		return circulation.Confirmation{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return circulation.Confirmation{}, fmt.Errorf("%w: %w", circulation.ErrInfrastructure, err)
	}
	defer resp.Body.Close()

	var out movementResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return circulation.Confirmation{}, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if out.Confirmation == nil {
			return circulation.Confirmation{}, fmt.Errorf("server accepted the movement without a confirmation")
		}
		return *out.Confirmation, nil
	case http.StatusUnprocessableEntity:
		return circulation.Confirmation{}, &circulation.Rejection{Code: out.Code, Reason: out.Message}
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return circulation.Confirmation{}, fmt.Errorf("%w: %s", circulation.ErrInfrastructure, out.Message)
	default:
		return circulation.Confirmation{}, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, out.Message)
	}
}

// ResolveStatus fetches the derived state of a device.
func (c *Client) ResolveStatus(ctx context.Context, deviceID string) (circulation.DerivedState, error) {
	var state circulation.DerivedState
	err := c.get(ctx, "/devices/"+url.PathEscape(strings.TrimSpace(deviceID))+"/status", &state)
	return state, err
}

// Totals fetches the per status counts of the registry.
func (c *Client) Totals(ctx context.Context) (circulation.Totals, error) {
	var totals circulation.Totals
	err := c.get(ctx, "/totals", &totals)
	return totals, err
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", circulation.ErrInfrastructure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var out movementResponse
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if resp.StatusCode == http.StatusServiceUnavailable {
			return fmt.Errorf("%w: %s", circulation.ErrInfrastructure, out.Message)
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, out.Message)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
