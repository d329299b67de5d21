package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"
)

// APIClient is a helper for making requests to the sync daemon API.
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a new API client using the configured daemon URL.
func NewAPIClient() *APIClient {
	return &APIClient{
		BaseURL: viper.GetString("url"),
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Get makes a GET request to the given path.
func (c *APIClient) Get(path string) (*http.Response, error) {
	return c.HTTPClient.Get(c.BaseURL + path)
}

// Post makes a POST request with a JSON body to the given path.
func (c *APIClient) Post(path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	return c.HTTPClient.Post(c.BaseURL+path, "application/json", reader)
}

// Delete makes a DELETE request to the given path.
func (c *APIClient) Delete(path string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.HTTPClient.Do(req)
}

// CheckResponse returns an error when the daemon answered with a non-2xx status,
// surfacing the message from the API envelope when one is present.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
		return fmt.Errorf("daemon returned %s: %s", resp.Status, envelope.Message)
	}

	return fmt.Errorf("daemon returned %s: %s", resp.Status, string(data))
}

// PrintJSON pretty prints the response body to stdout.
func PrintJSON(resp *http.Response) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		// Not JSON, print raw.
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(buf.String())
	return nil
}
