package identity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"directmsg/pkg/domain"
)

// Client calls the identity provider over HTTP for public profiles.
type Client struct {
	baseURL      string
	serviceToken string
	httpClient   *http.Client
}

// APIError represents an identity provider error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs an identity provider client. serviceToken, when set,
// authenticates this service to the provider.
func NewClient(baseURL, serviceToken string) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		serviceToken: strings.TrimSpace(serviceToken),
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
}

// GetProfile fetches a user's public profile. A provider 404 maps to
// domain.ErrNotFound so callers can surface it uniformly.
func (c *Client) GetProfile(userID int64) (domain.UserProfile, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/users/"+strconv.FormatInt(userID, 10), nil)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if c.serviceToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.serviceToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.UserProfile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return domain.UserProfile{}, fmt.Errorf("%w: user %d", domain.ErrNotFound, userID)
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.UserProfile{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var profile domain.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return domain.UserProfile{}, err
	}
	return profile, nil
}
