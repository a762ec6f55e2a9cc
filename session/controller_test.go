package session

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/tibanode/tibanode-client/lib/logger"
	libtesting "github.com/tibanode/tibanode-client/lib/testing"
	"github.com/tibanode/tibanode-client/lib/testing/fakeapi"
	"github.com/tibanode/tibanode-client/session/api"
	"github.com/tibanode/tibanode-client/session/state"
)

const (
	email    = "nurse@example.com"
	password = "s3cret-pass"
)

type ControllerSuite struct {
	libtesting.Suite
	fake   *fakeapi.Server
	store  *state.MemoryStore
	notes  *Recorder
	clock  clockwork.FakeClock
	userID int64
	ctrl   *Controller
}

func TestController(t *testing.T) { suite.Run(t, &ControllerSuite{}) }

func (s *ControllerSuite) SetupTest() {
	s.fake = fakeapi.New()
	s.T().Cleanup(s.fake.Close)
	s.userID = s.fake.AddUser(email, password)

	client, err := api.NewClient(api.Config{URL: s.fake.URL()})
	s.Require().NoError(err)

	s.store = state.NewMemoryStore()
	s.notes = &Recorder{}
	s.clock = clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))

	s.ctrl, err = New(Config{
		Client:     client,
		Store:      s.store,
		Notifier:   s.notes,
		Clock:      s.clock,
		Registerer: prometheus.NewRegistry(),
		Log:        logger.Discard(),
	})
	s.Require().NoError(err)
	s.Require().Equal(StatusInitializing, s.ctrl.State().Status)
}

func (s *ControllerSuite) save(access, refresh string) {
	s.Require().NoError(s.store.Save(context.Background(), &state.Credentials{AccessToken: access, RefreshToken: refresh}))
}

func (s *ControllerSuite) stored() *state.Credentials {
	creds, err := s.store.Load(context.Background())
	s.Require().NoError(err)
	return creds
}

func (s *ControllerSuite) TestRestoreWithoutTokens() {
	s.clock.Advance(time.Minute)
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	st := s.ctrl.State()
	s.Require().Equal(StatusUnauthenticated, st.Status)
	s.Require().Nil(st.User)
	s.Require().Equal(s.clock.Now(), st.UpdatedAt)
	s.Require().Equal(0, s.fake.TotalCalls())
}

func (s *ControllerSuite) TestRestoreMalformedStorage() {
	s.store.SetRaw([]byte(`{"access":"A1"`))
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	s.Require().Equal(StatusUnauthenticated, s.ctrl.State().Status)
	s.Require().Equal(0, s.fake.TotalCalls())
}

func (s *ControllerSuite) TestRestoreValidSession() {
	s.fake.GrantTokens(s.userID, "A1", "R1")
	s.save("A1", "R1")

	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	st := s.ctrl.State()
	s.Require().Equal(StatusAuthenticated, st.Status)
	s.Require().Equal(&api.User{ID: s.userID, Email: email}, st.User)
	s.Require().Equal(0, s.fake.Calls(api.RefreshPath))
}

func (s *ControllerSuite) TestRestoreRefreshesStaleAccessToken() {
	s.fake.GrantTokens(s.userID, "", "R1")
	s.save("A1", "R1")

	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	st := s.ctrl.State()
	s.Require().Equal(StatusAuthenticated, st.Status)
	s.Require().Equal(email, st.User.Email)
	s.Require().Equal(1, s.fake.Calls(api.RefreshPath))
	s.Require().Equal(2, s.fake.Calls(api.MePath))

	creds := s.stored()
	s.Require().NotEqual("A1", creds.AccessToken)
	s.Require().NotEqual("R1", creds.RefreshToken)
}

func (s *ControllerSuite) TestRestoreExpiredSession() {
	s.save("A1", "R1")

	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	st := s.ctrl.State()
	s.Require().Equal(StatusUnauthenticated, st.Status)
	s.Require().Nil(st.User)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgSessionExpired))
}

func (s *ControllerSuite) TestRestoreSoftFail() {
	s.fake.GrantTokens(s.userID, "A1", "R1")
	s.fake.SetMeStatus(http.StatusServiceUnavailable)
	s.save("A1", "R1")

	err := s.ctrl.Restore(s.Ctx())
	s.Require().Error(err)

	st := s.ctrl.State()
	s.Require().Equal(StatusAuthenticated, st.Status)
	s.Require().Nil(st.User)
	s.Require().NotEmpty(st.Err)
	s.Require().Equal(&state.Credentials{AccessToken: "A1", RefreshToken: "R1"}, s.stored())
	s.Require().Empty(s.notes.Notifications())
}

func (s *ControllerSuite) TestLogin() {
	s.fake.SetLoginTokens("A1", "R1")
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	s.Require().NoError(s.ctrl.Login(s.Ctx(), email, password))

	st := s.ctrl.State()
	s.Require().Equal(StatusAuthenticated, st.Status)
	s.Require().Equal(&api.User{ID: s.userID, Email: email}, st.User)
	s.Require().False(st.Loading)
	s.Require().Empty(st.Err)
	s.Require().Equal(&state.Credentials{AccessToken: "A1", RefreshToken: "R1"}, s.stored())

	reqs := s.fake.Requests(api.MePath)
	s.Require().Len(reqs, 1)
	s.Require().Equal("Bearer A1", reqs[0].Authorization)
	s.Require().Equal(1, s.notes.Count(MsgLoginSucceeded))
}

func (s *ControllerSuite) TestFailedLoginKeepsSession() {
	for _, tc := range []struct {
		name     string
		password string
		status   int
	}{
		{name: "bad credentials", password: "wrong"},
		{name: "server unavailable", password: password, status: http.StatusServiceUnavailable},
	} {
		s.Run(tc.name, func() {
			s.SetupTest()
			s.fake.GrantTokens(s.userID, "A1", "R1")
			s.save("A1", "R1")
			s.Require().NoError(s.ctrl.Restore(s.Ctx()))
			s.fake.SetLoginStatus(tc.status)

			err := s.ctrl.Login(s.Ctx(), email, tc.password)
			s.Require().Error(err)

			st := s.ctrl.State()
			s.Require().Equal(StatusAuthenticated, st.Status)
			s.Require().Equal(&api.User{ID: s.userID, Email: email}, st.User)
			s.Require().Equal("Invalid email or password", st.Err)
			s.Require().Equal(&state.Credentials{AccessToken: "A1", RefreshToken: "R1"}, s.stored())
			s.Require().Equal(1, s.notes.Count(MsgLoginFailed))
			s.Require().Equal(0, s.notes.Count(MsgSessionExpired))
		})
	}
}

func (s *ControllerSuite) TestLoginIdentityFailureRestoresPreviousSession() {
	s.fake.GrantTokens(s.userID, "A1", "R1")
	s.save("A1", "R1")
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))
	s.fake.SetMeStatus(http.StatusInternalServerError)

	err := s.ctrl.Login(s.Ctx(), email, password)
	s.Require().Error(err)

	st := s.ctrl.State()
	s.Require().Equal(StatusAuthenticated, st.Status)
	s.Require().Equal(email, st.User.Email)
	s.Require().Equal(&state.Credentials{AccessToken: "A1", RefreshToken: "R1"}, s.stored())
	s.Require().Equal(1, s.notes.Count(MsgLoginFailed))
}

func (s *ControllerSuite) TestLoginBadCredentials() {
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	err := s.ctrl.Login(s.Ctx(), email, "wrong")
	s.Require().True(api.IsUnauthorized(err), "got %v", err)

	st := s.ctrl.State()
	s.Require().Equal(StatusUnauthenticated, st.Status)
	s.Require().Equal("Invalid email or password", st.Err)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgLoginFailed))
	s.Require().Equal(0, s.fake.Calls(api.MePath))
}

func (s *ControllerSuite) TestLoginIdentityFailureStoresNothing() {
	s.fake.SetMeStatus(http.StatusInternalServerError)

	err := s.ctrl.Login(s.Ctx(), email, password)
	s.Require().Error(err)

	s.Require().Equal(StatusUnauthenticated, s.ctrl.State().Status)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgLoginFailed))
}

func (s *ControllerSuite) TestRegister() {
	s.Require().NoError(s.ctrl.Restore(s.Ctx()))

	err := s.ctrl.Register(s.Ctx(), api.RegisterRequest{
		Email:           "new@example.com",
		Password:        "abcdefgh1",
		PasswordConfirm: "abcdefgh1",
	})
	s.Require().NoError(err)

	s.Require().Equal(StatusUnauthenticated, s.ctrl.State().Status)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgRegisterSucceeded))
	s.Require().Equal(1, s.fake.Calls(api.RegisterPath))
}

func (s *ControllerSuite) TestRegisterClientSideValidation() {
	err := s.ctrl.Register(s.Ctx(), api.RegisterRequest{
		Email:           "new@example.com",
		Password:        "12345678",
		PasswordConfirm: "12345678",
	})
	validationErr, ok := api.AsValidationError(err)
	s.Require().True(ok, "got %v", err)
	s.Require().Equal("Password cannot be entirely numeric", validationErr.FieldError("password"))
	s.Require().Equal(0, s.fake.TotalCalls())
	s.Require().Equal(StatusInitializing, s.ctrl.State().Status)
}

func (s *ControllerSuite) TestRegisterServerValidation() {
	err := s.ctrl.Register(s.Ctx(), api.RegisterRequest{
		Email:           email,
		Password:        "abcdefgh1",
		PasswordConfirm: "abcdefgh1",
	})
	validationErr, ok := api.AsValidationError(err)
	s.Require().True(ok, "got %v", err)
	s.Require().Equal("user with this email already exists.", validationErr.FieldError("email"))

	st := s.ctrl.State()
	s.Require().Equal("email: user with this email already exists.", st.Err)
	s.Require().Equal(1, s.notes.Count("email: user with this email already exists."))
}

func (s *ControllerSuite) TestLogout() {
	s.Require().NoError(s.ctrl.Login(s.Ctx(), email, password))

	s.ctrl.Logout(s.Ctx())

	st := s.ctrl.State()
	s.Require().Equal(StatusUnauthenticated, st.Status)
	s.Require().Nil(st.User)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgLoggedOut))

	// logging out twice is harmless
	s.ctrl.Logout(s.Ctx())
	s.Require().Equal(StatusUnauthenticated, s.ctrl.State().Status)
}

func (s *ControllerSuite) TestSessionExpiresDuringUse() {
	s.Require().NoError(s.ctrl.Login(s.Ctx(), email, password))
	creds := s.stored()
	s.fake.ExpireAccess(creds.AccessToken)
	s.fake.RevokeRefresh(creds.RefreshToken)

	err := s.ctrl.Gateway().Get(s.Ctx(), clientsPath, nil)
	s.Require().True(api.IsUnauthorized(err), "got %v", err)

	s.Require().Equal(StatusUnauthenticated, s.ctrl.State().Status)
	s.Require().Nil(s.ctrl.State().User)
	s.Require().Nil(s.stored())
	s.Require().Equal(1, s.notes.Count(MsgSessionExpired))
}

func (s *ControllerSuite) TestStateIsACopy() {
	s.Require().NoError(s.ctrl.Login(s.Ctx(), email, password))

	st := s.ctrl.State()
	st.User.Email = "changed@example.com"
	s.Require().Equal(email, s.ctrl.State().User.Email)
}

func TestNewChecksConfig(t *testing.T) {
	_, err := New(Config{})
	require.True(t, trace.IsBadParameter(err))
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "initializing", StatusInitializing.String())
	require.Equal(t, "authenticated", StatusAuthenticated.String())
	require.Equal(t, "unauthenticated", StatusUnauthenticated.String())
}
