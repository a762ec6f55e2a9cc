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
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tibanode/tibanode-client/lib/logger"
	"github.com/tibanode/tibanode-client/session/api"
	"github.com/tibanode/tibanode-client/session/state"
)

// Status is the coarse session state.
type Status int

const (
	StatusInitializing Status = iota
	StatusAuthenticated
	StatusUnauthenticated
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusUnauthenticated:
		return "unauthenticated"
	default:
		return "initializing"
	}
}

// State is a snapshot of the session.
type State struct {
	Status Status
	// User is nil unless the identity was fetched. A restored session whose
	// identity lookup failed for reasons other than 401 is Authenticated
	// with a nil User.
	User *api.User
	// Loading is set while login or register is in flight.
	Loading bool
	// Err is the last user-facing error message.
	Err       string
	UpdatedAt time.Time
}

// Config configures the Controller.
type Config struct {
	Client   *api.Client
	Store    state.Store
	Notifier Notifier
	Clock    clockwork.Clock
	// Registerer receives the gateway metrics. Optional.
	Registerer prometheus.Registerer
	// Refresher overrides the refresh endpoint. Optional.
	Refresher Refresher
	Log       logrus.FieldLogger
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Client == nil {
		return trace.BadParameter("missing required value Client")
	}
	if c.Store == nil {
		return trace.BadParameter("missing required value Store")
	}
	if c.Notifier == nil {
		c.Notifier = LogNotifier{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logger.Standard()
	}
	return nil
}

// Controller owns the session lifecycle: startup restoration, login,
// registration and logout. It is safe for concurrent use.
type Controller struct {
	client   *api.Client
	store    state.Store
	notifier Notifier
	clock    clockwork.Clock
	log      logrus.FieldLogger
	gateway  *Gateway

	mu    sync.RWMutex // protects the below fields
	state State
}

// New returns a Controller in the Initializing state. Call Restore next.
func New(conf Config) (*Controller, error) {
	if err := conf.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	metrics, err := NewMetrics(conf.Registerer)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	c := &Controller{
		client:   conf.Client,
		store:    conf.Store,
		notifier: conf.Notifier,
		clock:    conf.Clock,
		log:      conf.Log,
		state: State{
			Status:    StatusInitializing,
			UpdatedAt: conf.Clock.Now(),
		},
	}
	c.gateway, err = NewGateway(GatewayConfig{
		Client:    conf.Client,
		Store:     conf.Store,
		Refresher: conf.Refresher,
		Notifier:  conf.Notifier,
		Metrics:   metrics,
		Clock:     conf.Clock,
		OnExpired: c.onExpired,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return c, nil
}

// Gateway returns the authenticated request gateway.
func (c *Controller) Gateway() *Gateway {
	return c.gateway
}

// State returns a snapshot of the session.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := c.state
	if c.state.User != nil {
		user := *c.state.User
		result.User = &user
	}
	return result
}

// Restore resolves the Initializing state from the stored credentials.
//
// Without credentials no request is made. An unreadable store leaves the
// session Unauthenticated and returns the error. Otherwise the identity is fetched:
// a rejected session ends Unauthenticated with the store cleared, while any
// other failure leaves the session Authenticated without an identity.
func (c *Controller) Restore(ctx context.Context) error {
	creds, err := c.store.Load(ctx)
	if err != nil {
		c.setErr(trace.UserMessage(err))
		c.transition(StatusUnauthenticated, nil)
		return trace.Wrap(err)
	}
	if creds == nil {
		c.transition(StatusUnauthenticated, nil)
		return nil
	}

	user, err := c.fetchUser(ctx)
	switch {
	case err == nil:
		c.transition(StatusAuthenticated, user)
		return nil
	case api.IsUnauthorized(err) || IsNoSession(err):
		c.log.WithError(err).Info("Stored session is no longer valid")
		c.clearStore(ctx)
		c.transition(StatusUnauthenticated, nil)
		return nil
	default:
		c.log.WithError(err).Warn("Failed to verify the stored session")
		c.mu.Lock()
		c.state.Status = StatusAuthenticated
		c.state.User = nil
		c.state.Err = trace.UserMessage(err)
		c.state.UpdatedAt = c.clock.Now()
		c.mu.Unlock()
		return trace.Wrap(err)
	}
}

// Login exchanges the credentials for a token pair and loads the identity.
// A failed exchange leaves the store and Status as they were. A failure after
// the new pair was saved puts back whatever pair was stored before.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	c.begin()
	defer c.end()

	ctx, log := logger.WithField(ctx, "email", email)

	before := c.State()
	user, err := c.login(ctx, email, password, before)
	if err != nil {
		log.WithError(err).Debug("Login failed")
		c.setErr("Invalid email or password")
		c.notify(ctx, LevelError, MsgLoginFailed)
		return trace.Wrap(err)
	}

	c.transition(StatusAuthenticated, user)
	log.Info("Logged in")
	c.notify(ctx, LevelSuccess, MsgLoginSucceeded)
	return nil
}

func (c *Controller) login(ctx context.Context, email, password string, before State) (*api.User, error) {
	creds, err := c.client.Login(ctx, email, password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	prev, err := c.store.Load(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.store.Save(ctx, creds); err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := c.fetchUser(ctx)
	if err != nil {
		c.undoLogin(ctx, prev, before)
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// undoLogin puts back the pair and state that preceded a login whose pair was
// saved but whose identity lookup failed.
func (c *Controller) undoLogin(ctx context.Context, prev *state.Credentials, before State) {
	if prev != nil {
		err := c.store.Save(ctx, prev)
		if err == nil {
			c.transition(before.Status, before.User)
			return
		}
		logger.Get(ctx).WithError(err).Error("Failed to restore the previous session")
	}
	c.clearStore(ctx)
	c.transition(StatusUnauthenticated, nil)
}

// Register creates an account. The session state is left as it was.
func (c *Controller) Register(ctx context.Context, req api.RegisterRequest) error {
	c.begin()
	defer c.end()

	err := api.ValidateRegistration(req)
	if err == nil {
		err = c.client.Register(ctx, req)
	}
	if err != nil {
		msg := MsgRegisterFailed
		if validationErr, ok := api.AsValidationError(err); ok {
			msg = validationErr.Error()
		}
		c.setErr(msg)
		c.notify(ctx, LevelError, msg)
		return trace.Wrap(err)
	}

	c.notify(ctx, LevelSuccess, MsgRegisterSucceeded)
	return nil
}

// Logout always ends Unauthenticated with an empty store.
func (c *Controller) Logout(ctx context.Context) {
	c.clearStore(ctx)
	c.mu.Lock()
	c.state.Err = ""
	c.mu.Unlock()
	c.transition(StatusUnauthenticated, nil)
	c.notify(ctx, LevelInfo, MsgLoggedOut)
}

func (c *Controller) fetchUser(ctx context.Context) (*api.User, error) {
	var user api.User
	if err := c.gateway.Get(ctx, api.MePath, &user); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// onExpired is the gateway hook fired after the store was cleared.
func (c *Controller) onExpired(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status == StatusUnauthenticated {
		return
	}
	c.state.Status = StatusUnauthenticated
	c.state.User = nil
	c.state.UpdatedAt = c.clock.Now()
	c.log.Info("Session expired")
}

func (c *Controller) transition(status Status, user *api.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = status
	c.state.User = user
	c.state.UpdatedAt = c.clock.Now()
}

func (c *Controller) begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = true
	c.state.Err = ""
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Loading = false
}

func (c *Controller) setErr(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Err = msg
}

func (c *Controller) clearStore(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		logger.Get(ctx).WithError(err).Error("Failed to clear the session store")
	}
}

func (c *Controller) notify(ctx context.Context, level Level, msg string) {
	c.notifier.Notify(ctx, Notification{Level: level, Message: msg, Time: c.clock.Now()})
}
