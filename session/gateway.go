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

package session

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/tibanode/tibanode-client/lib/logger"
	"github.com/tibanode/tibanode-client/session/api"
	"github.com/tibanode/tibanode-client/session/state"
)

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*state.Credentials, error)
}

// Request is one logical API call made on behalf of the session.
type Request struct {
	Method string
	// Path is relative to the API base URL, e.g. "/clients/".
	Path  string
	Query url.Values
	Body  interface{}
	// Result receives the decoded 2xx response body.
	Result interface{}
}

// GatewayConfig configures the Gateway.
type GatewayConfig struct {
	Client *api.Client
	Store  state.Store
	// Refresher defaults to Client.
	Refresher Refresher
	Notifier  Notifier
	Metrics   *Metrics
	Clock     clockwork.Clock
	// OnExpired is called once the store was cleared after a failed refresh
	// or when a refresh found no session to refresh.
	OnExpired func(ctx context.Context)
}

func (c *GatewayConfig) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing required value Client")
	}
	if c.Store == nil {
		return trace.BadParameter("missing required value Store")
	}
	if c.Refresher == nil {
		c.Refresher = c.Client
	}
	if c.Notifier == nil {
		c.Notifier = LogNotifier{}
	}
	if c.Metrics == nil {
		metrics, err := NewMetrics(nil)
		if err != nil {
			return trace.Wrap(err)
		}
		c.Metrics = metrics
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Gateway sends authenticated requests. A request rejected with 401 triggers
// at most one token refresh and one retry. Concurrent requests failing with
// the same token share a single refresh call.
type Gateway struct {
	conf  GatewayConfig
	group singleflight.Group
}

// NewGateway returns a new Gateway.
func NewGateway(conf GatewayConfig) (*Gateway, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Gateway{conf: conf}, nil
}

// Get is a shortcut for a GET request.
func (g *Gateway) Get(ctx context.Context, path string, result interface{}) error {
	_, err := g.Do(ctx, Request{Method: http.MethodGet, Path: path, Result: result})
	return trace.Wrap(err)
}

// Post is a shortcut for a POST request.
func (g *Gateway) Post(ctx context.Context, path string, body, result interface{}) error {
	_, err := g.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Result: result})
	return trace.Wrap(err)
}

// Do sends the request with the stored access token.
//
// On 401 the token is refreshed and the request re-issued once with the new
// token. If the refresh fails the store is cleared, the person is told the
// session expired and the original 401 is returned.
func (g *Gateway) Do(ctx context.Context, req Request) (*resty.Response, error) {
	requestID := uuid.NewString()
	ctx, log := logger.WithFields(ctx, logger.Fields{
		"request_id": requestID,
		"method":     req.Method,
		"path":       req.Path,
	})

	creds, err := g.conf.Store.Load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if creds == nil {
		return nil, trace.Wrap(ErrNoSession)
	}

	token := creds.AccessToken
	retried := false
	for {
		resp, err := g.send(ctx, req, requestID, token)
		if err == nil {
			return resp, nil
		}
		if retried || !api.IsUnauthorized(err) {
			return resp, trace.Wrap(err)
		}
		retried = true

		log.Debug("Access token rejected, refreshing")
		next, refreshErr := g.refresh(ctx, token)
		if IsNoSession(refreshErr) {
			return resp, trace.Wrap(refreshErr)
		}
		if refreshErr != nil {
			return resp, trace.Wrap(err, "session expired")
		}

		token = next.AccessToken
		g.conf.Metrics.retries.Inc()
		log.Debug("Retrying with the refreshed access token")
	}
}

func (g *Gateway) send(ctx context.Context, req Request, requestID, token string) (*resty.Response, error) {
	r := g.conf.Client.NewRequest(ctx).
		SetHeader(api.RequestIDHeader, requestID).
		SetAuthToken(token)
	if req.Query != nil {
		r.SetQueryParamsFromValues(req.Query)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if req.Result != nil {
		r.SetResult(req.Result)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	resp, err := r.Execute(method, req.Path)
	return resp, api.ConvertError(resp, err)
}

// refresh returns a credential pair whose access token differs from the
// rejected one.
func (g *Gateway) refresh(ctx context.Context, rejected string) (*state.Credentials, error) {
	log := logger.Get(ctx)

	current, err := g.conf.Store.Load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if current == nil {
		g.conf.Metrics.refreshes.WithLabelValues(refreshNoSession).Inc()
		g.onExpired(ctx)
		return nil, trace.Wrap(ErrNoSession)
	}
	if current.AccessToken != rejected {
		// Another request has already refreshed the pair.
		g.conf.Metrics.refreshes.WithLabelValues(refreshShared).Inc()
		return current, nil
	}

	result, err, shared := g.group.Do(current.RefreshToken, func() (interface{}, error) {
		// The refresh outlives the cancellation of whichever caller started it.
		ctx := context.WithoutCancel(ctx)

		// A refresh for this token may have completed after the check above.
		latest, err := g.conf.Store.Load(ctx)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if latest == nil {
			return nil, trace.Wrap(ErrNoSession)
		}
		if latest.AccessToken != rejected {
			g.conf.Metrics.refreshes.WithLabelValues(refreshShared).Inc()
			return latest, nil
		}

		creds, err := g.conf.Refresher.Refresh(ctx, latest.RefreshToken)
		if err == nil {
			err = g.conf.Store.Save(ctx, creds)
		}
		if err != nil {
			log.WithError(err).Warn("Failed to refresh the session")
			g.conf.Metrics.refreshes.WithLabelValues(refreshFailure).Inc()
			g.expire(ctx)
			return nil, trace.Wrap(err)
		}

		log.Info("Session refreshed")
		g.conf.Metrics.refreshes.WithLabelValues(refreshSuccess).Inc()
		return creds, nil
	})
	if IsNoSession(err) {
		g.conf.Metrics.refreshes.WithLabelValues(refreshNoSession).Inc()
		g.onExpired(ctx)
		return nil, trace.Wrap(err)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if shared {
		log.Debug("Joined a refresh started by another request")
	}
	return result.(*state.Credentials), nil
}

// expire ends the session after a failed refresh.
func (g *Gateway) expire(ctx context.Context) {
	if err := g.conf.Store.Clear(ctx); err != nil {
		logger.Get(ctx).WithError(err).Error("Failed to clear the session store")
	}
	g.conf.Metrics.expired.Inc()
	g.conf.Notifier.Notify(ctx, Notification{
		Level:   LevelError,
		Message: MsgSessionExpired,
		Time:    g.conf.Clock.Now(),
	})
	g.onExpired(ctx)
}

func (g *Gateway) onExpired(ctx context.Context) {
	if g.conf.OnExpired != nil {
		g.conf.OnExpired(ctx)
	}
}
