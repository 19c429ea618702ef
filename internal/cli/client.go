package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pomopatch/internal/auth"
	"pomopatch/internal/garden"

	"github.com/google/uuid"
)

// self addresses the caller's own account.
const self = "/v1/accounts/me"

// APIError is a non-2xx reply from the garden API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SignupResult carries a warning when the identity was created but the
// garden account was not.
type SignupResult struct {
	auth.Session
	Warning string `json:"warning,omitempty"`
}

func (c *Client) Signup(ctx context.Context, email, password, displayName string) (SignupResult, error) {
	var out SignupResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out)
	return out, err
}

func (c *Client) CreateAccount(ctx context.Context, accessToken, displayName string) (garden.Account, error) {
	var out garden.Account
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/accounts", accessToken, map[string]any{
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) Account(ctx context.Context, accessToken string) (garden.Account, error) {
	var out garden.Account
	err := c.jsonRequest(ctx, http.MethodGet, self, accessToken, nil, &out)
	return out, err
}

func (c *Client) RenameAccount(ctx context.Context, accessToken, displayName string) (garden.Account, error) {
	var out garden.Account
	err := c.jsonRequest(ctx, http.MethodPatch, self, accessToken, map[string]any{
		"display_name": displayName,
	}, &out)
	return out, err
}

func (c *Client) DeleteAccount(ctx context.Context, accessToken string) error {
	return c.jsonRequest(ctx, http.MethodDelete, self, accessToken, nil, nil)
}

func (c *Client) BuyResource(ctx context.Context, accessToken string, r garden.Resource) (garden.ResourceResult, error) {
	var out garden.ResourceResult
	err := c.jsonRequest(ctx, http.MethodPost, self+"/shop/"+url.PathEscape(string(r)), accessToken, nil, &out)
	return out, err
}

func (c *Client) UpgradeCapacity(ctx context.Context, accessToken string) (garden.CapacityResult, error) {
	var out garden.CapacityResult
	err := c.jsonRequest(ctx, http.MethodPost, self+"/capacity", accessToken, nil, &out)
	return out, err
}

func (c *Client) Ledger(ctx context.Context, accessToken string, limit int) ([]garden.LedgerEntry, error) {
	path := self + "/ledger"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Entries []garden.LedgerEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out)
	return out.Entries, err
}

func (c *Client) Plants(ctx context.Context, accessToken string) ([]garden.Plant, error) {
	var out struct {
		Plants []garden.Plant `json:"plants"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, self+"/plants", accessToken, nil, &out)
	return out.Plants, err
}

func (c *Client) Plant(ctx context.Context, accessToken string, plantID int64) (garden.Plant, error) {
	var out garden.Plant
	err := c.jsonRequest(ctx, http.MethodGet, plantPath(plantID, ""), accessToken, nil, &out)
	return out, err
}

func (c *Client) CreatePlant(ctx context.Context, accessToken string, plantType garden.PlantType, pos *garden.Position) (garden.CreatePlantResult, error) {
	body := map[string]any{"plant_type": string(plantType)}
	if pos != nil {
		body["x"] = pos.X
		body["y"] = pos.Y
	}
	var out garden.CreatePlantResult
	err := c.jsonRequest(ctx, http.MethodPost, self+"/plants", accessToken, body, &out)
	return out, err
}

func (c *Client) MovePlant(ctx context.Context, accessToken string, plantID int64, pos *garden.Position) (garden.Plant, error) {
	body := map[string]any{}
	if pos != nil {
		body["x"] = pos.X
		body["y"] = pos.Y
	}
	var out garden.Plant
	err := c.jsonRequest(ctx, http.MethodPost, plantPath(plantID, "move"), accessToken, body, &out)
	return out, err
}

func (c *Client) GrowPlant(ctx context.Context, accessToken string, plantID int64) (garden.StartGrowingResult, error) {
	var out garden.StartGrowingResult
	err := c.jsonRequest(ctx, http.MethodPost, plantPath(plantID, "grow"), accessToken, nil, &out)
	return out, err
}

func (c *Client) TickPlant(ctx context.Context, accessToken string, plantID, elapsed int64) (garden.TickResult, error) {
	var out garden.TickResult
	err := c.jsonRequest(ctx, http.MethodPost, plantPath(plantID, "tick"), accessToken, map[string]any{
		"elapsed": elapsed,
	}, &out)
	return out, err
}

func (c *Client) SellPlant(ctx context.Context, accessToken string, plantID int64) (garden.SellResult, error) {
	var out garden.SellResult
	err := c.jsonRequest(ctx, http.MethodPost, plantPath(plantID, "sell"), accessToken, nil, &out)
	return out, err
}

func plantPath(plantID int64, action string) string {
	p := self + "/plants/" + strconv.FormatInt(plantID, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// errorMessage pulls "error" out of a JSON error body, falling back to the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
