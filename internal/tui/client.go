package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hiveplane/hiveplane/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Hiveplane API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListAgents fetches the agent registry.
func (c *Client) ListAgents() ([]models.Agent, error) {
	var agents []models.Agent
	if err := c.get("/api/coordinator/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListTasks fetches shared tasks, optionally filtered by status.
func (c *Client) ListTasks(status string) ([]models.Task, error) {
	path := "/api/coordinator/tasks"
	if status != "" {
		path += "?status=" + status
	}
	var tasks []models.Task
	if err := c.get(path, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// ListClaims fetches the live claims.
func (c *Client) ListClaims() ([]models.Claim, error) {
	var claims []models.Claim
	if err := c.get("/api/coordinator/claims", &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// RecentChat fetches the most recent group chat messages.
func (c *Client) RecentChat(limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	if err := c.get(fmt.Sprintf("/api/coordinator/chat?limit=%d", limit), &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Dashboard fetches the soul/body operator aggregate.
func (c *Client) Dashboard() (*models.Dashboard, error) {
	var dash models.Dashboard
	if err := c.get("/api/dashboard", &dash); err != nil {
		return nil, err
	}
	return &dash, nil
}

// CheckHealth checks if the daemon is reachable.
func (c *Client) CheckHealth() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (c *Client) get(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
