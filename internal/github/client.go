// Package github is a minimal client for the pieces of the GitHub API this
// bot uses: the OAuth code exchange and the profile/organization reads.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	oauthTokenURL = "https://github.com/login/oauth/access_token"
	apiBaseURL    = "https://api.github.com"
	userAgent     = "github-attestation-bot/1.0"
)

type Client struct {
	clientID     string
	clientSecret string
	httpClient   *http.Client
}

func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AuthorizeURL is where the user logs in; state carries the correlation
// token that binds the round trip back to the chat user.
func (c *Client) AuthorizeURL(state string) string {
	return "https://github.com/login/oauth/authorize?client_id=" + url.QueryEscape(c.clientID) +
		"&scope=&state=" + url.QueryEscape(state)
}

// ExchangeCode trades an authorization code for an access token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"code":          {code},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
	}
	if err := c.do(req, &result); err != nil {
		return "", err
	}
	if result.Error != "" {
		return "", fmt.Errorf("github oauth error: %s", result.Error)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("github oauth returned no access token")
	}
	return result.AccessToken, nil
}

// Profile is the authenticated user's identity.
type Profile struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// GithubID renders the numeric id the way attestation payloads carry it.
func (p Profile) GithubID() string {
	return strconv.FormatInt(p.ID, 10)
}

func (c *Client) FetchProfile(ctx context.Context, token string) (*Profile, error) {
	var profile Profile
	if err := c.get(ctx, token, "/user", &profile); err != nil {
		return nil, err
	}
	if profile.ID == 0 || profile.Login == "" {
		return nil, fmt.Errorf("github returned an incomplete profile")
	}
	return &profile, nil
}

// FetchOrganizations lists the organizations the user belongs to; each is a
// selectable identity option.
func (c *Client) FetchOrganizations(ctx context.Context, token string) ([]Profile, error) {
	var orgs []Profile
	if err := c.get(ctx, token, "/user/orgs", &orgs); err != nil {
		return nil, err
	}
	return orgs, nil
}

func (c *Client) get(ctx context.Context, token, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "token "+token)
	req.Header.Set("User-Agent", userAgent)
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("github request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read github response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github returned status %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to decode github response: %w", err)
	}
	return nil
}
