/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"

	"github.com/tibanode/tibanode-client/lib"
	"github.com/tibanode/tibanode-client/lib/logger"
	"github.com/tibanode/tibanode-client/session/state"
)

const (
	LoginPath    = "/user/login/"
	RefreshPath  = "/user/login/refresh/"
	RegisterPath = "/user/register/"
	MePath       = "/user/me/"

	// RequestIDHeader correlates the attempts of one logical request.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "tibanode-client"
)

// Config configures the API client.
type Config struct {
	// URL is the API base URL, e.g. https://clinic.example.com/api.
	URL string
	// Timeout bounds every single HTTP exchange.
	Timeout time.Duration
	// Transport overrides the HTTP transport.
	Transport http.RoundTripper
	UserAgent string
}

func (c *Config) CheckAndSetDefaults() error {
	if c.URL == "" {
		return trace.BadParameter("missing required value api url")
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return nil
}

// Client talks to the unauthenticated endpoints of the API and hands out
// request builders to the authenticated gateway.
type Client struct {
	client *resty.Client
}

// NewClient returns a new API client.
func NewClient(conf Config) (*Client, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	baseURL, err := lib.AddrToURL(conf.URL)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	transport := conf.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client := resty.NewWithClient(&http.Client{
		Timeout:   conf.Timeout,
		Transport: transport,
	})
	client.SetBaseURL(baseURL.String())
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", conf.UserAgent)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		logger.Get(req.Context()).WithFields(logger.Fields{
			"method":     req.Method,
			"url":        req.URL,
			"request_id": req.Header.Get(RequestIDHeader),
		}).Debug("Sending API request")
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		if resp.IsError() {
			return decodeStatusError(resp.StatusCode(), resp.Body())
		}
		return nil
	})

	return &Client{client: client}, nil
}

// NewRequest returns a request builder bound to ctx.
func (c *Client) NewRequest(ctx context.Context) *resty.Request {
	return c.client.R().SetContext(ctx)
}

// Login exchanges email and password for a credential pair.
func (c *Client) Login(ctx context.Context, email, password string) (*state.Credentials, error) {
	var result TokenResponse
	resp, err := c.NewRequest(ctx).
		SetBody(LoginRequest{Email: email, Password: password}).
		SetResult(&result).
		Post(LoginPath)
	if err != nil {
		return nil, ConvertError(resp, err)
	}
	return result.credentials()
}

// Refresh exchanges a refresh token for a new credential pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error) {
	var result TokenResponse
	resp, err := c.NewRequest(ctx).
		SetBody(RefreshRequest{Refresh: refreshToken}).
		SetResult(&result).
		Post(RefreshPath)
	if err != nil {
		return nil, ConvertError(resp, err)
	}
	return result.credentials()
}

// Register creates an account. Rejected input is returned as *ValidationError.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	resp, err := c.NewRequest(ctx).
		SetBody(req).
		Post(RegisterPath)
	if err == nil {
		return nil
	}

	statusErr, ok := AsStatusError(err)
	if ok && statusErr.StatusCode == http.StatusBadRequest {
		return trace.Wrap(&ValidationError{
			Message: statusErr.Message,
			Fields:  statusErr.Fields,
		})
	}
	return ConvertError(resp, err)
}

// credentials refuses to turn a half filled response into a pair.
func (r *TokenResponse) credentials() (*state.Credentials, error) {
	creds := &state.Credentials{AccessToken: r.Access, RefreshToken: r.Refresh}
	if !creds.IsComplete() {
		return nil, trace.BadParameter("API response does not contain both access and refresh tokens")
	}
	return creds, nil
}

// ConvertError keeps API response errors as is and reports everything else
// as a connection problem.
func ConvertError(resp *resty.Response, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsStatusError(err); ok {
		return trace.Wrap(err)
	}
	if resp != nil && resp.IsError() {
		return trace.Wrap(decodeStatusError(resp.StatusCode(), resp.Body()))
	}
	return trace.ConnectionProblem(err, "failed to reach the API: %v", err)
}
