package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foxseedlab/teleconsult/internal/backend"
	"github.com/foxseedlab/teleconsult/internal/credentials"
	"github.com/foxseedlab/teleconsult/internal/metrics"
	"github.com/foxseedlab/teleconsult/internal/transcript"
)

const maxErrorBody = 64 << 10

// HTTPClient talks to the portal REST API with bearer auth from a credential
// store.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	retry   *RetryCoordinator
}

type HTTPClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Store   credentials.Store
	Metrics *metrics.Metrics
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
	c.retry = NewRetryCoordinator(cfg.Store, c, cfg.Metrics)
	return c
}

type tokenRequest struct {
	AppointmentID string `json:"appointmentId"`
}

type tokenResponse struct {
	Data struct {
		Token       string          `json:"token"`
		ChannelName string          `json:"channelName"`
		AppID       string          `json:"appId"`
		UID         json.RawMessage `json:"uid"`
		VideoCallID json.RawMessage `json:"videoCallId"`
	} `json:"data"`
}

type endCallRequest struct {
	Transcript []transcript.Entry `json:"transcript"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
}

func (c *HTTPClient) GenerateToken(ctx context.Context, appointmentID string) (backend.JoinCredential, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/video-calls/token", tokenRequest{AppointmentID: appointmentID}, &resp); err != nil {
		return backend.JoinCredential{}, err
	}
	cred := backend.JoinCredential{
		Token:         resp.Data.Token,
		ChannelName:   resp.Data.ChannelName,
		AppID:         resp.Data.AppID,
		LocalIdentity: scalarString(resp.Data.UID),
		VideoCallID:   scalarString(resp.Data.VideoCallID),
	}
	if cred.Token == "" || cred.ChannelName == "" || cred.VideoCallID == "" {
		return backend.JoinCredential{}, errors.New("token response is missing token, channel name or video call id")
	}
	return cred, nil
}

func (c *HTTPClient) StartCall(ctx context.Context, videoCallID string) error {
	return c.do(ctx, http.MethodPost, "/api/video-calls/"+url.PathEscape(videoCallID)+"/start", nil, nil)
}

func (c *HTTPClient) EndCall(ctx context.Context, videoCallID string, entries []transcript.Entry) error {
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return c.do(ctx, http.MethodPost, "/api/video-calls/"+url.PathEscape(videoCallID)+"/end", endCallRequest{Transcript: entries}, nil)
}

// Refresh implements Refresher against the portal auth endpoint.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (credentials.Tokens, error) {
	var resp refreshResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/refresh", "", refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return credentials.Tokens{}, err
	}
	if resp.Data.AccessToken == "" {
		return credentials.Tokens{}, errors.New("refresh response has no access token")
	}
	return credentials.Tokens{AccessToken: resp.Data.AccessToken, RefreshToken: resp.Data.RefreshToken}, nil
}

// do sends an authenticated request. A 401 triggers one shared token refresh
// and a single retry; if the refresh fails the original 401 is returned.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.retry.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("load access token: %w", err)
	}
	err = c.send(ctx, method, path, token, in, out)
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		return err
	}

	fresh, refreshErr := c.retry.Refresh(ctx, token)
	if refreshErr != nil {
		return errors.Join(err, refreshErr)
	}
	return c.send(ctx, method, path, fresh, in, out)
}

func (c *HTTPClient) send(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e errorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = json.Unmarshal(raw, &e)
		return &backend.APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(e.Message)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// scalarString renders a JSON string or number as plain text.
func scalarString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
