package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	libtesting "github.com/tibanode/tibanode-client/lib/testing"
	"github.com/tibanode/tibanode-client/lib/testing/fakeapi"
	"github.com/tibanode/tibanode-client/session"
)

const (
	testEmail    = "nurse@example.com"
	testPassword = "s3cret-pass"
)

type fakePrompter map[string]string

func (p fakePrompter) Prompt(label string, _ bool) (string, error) {
	answer, ok := p[label]
	if !ok {
		return "", trace.NotFound("unexpected prompt %q", label)
	}
	return answer, nil
}

type CommandsSuite struct {
	libtesting.Suite
	fake        *fakeapi.Server
	storageFile string
}

func TestCommands(t *testing.T) { suite.Run(t, &CommandsSuite{}) }

func (s *CommandsSuite) SetupTest() {
	s.fake = fakeapi.New()
	s.T().Cleanup(s.fake.Close)
	s.fake.AddUser(testEmail, testPassword)
	s.storageFile = filepath.Join(s.NewTmpDir("tibanode"), "tokens.json")
}

// run parses and runs one command the way main does.
func (s *CommandsSuite) run(prompter Prompter, args ...string) (string, string, error) {
	t := s.T()
	t.Helper()

	var cli CLI
	parser, err := kong.New(&cli, kong.Name(appName), kong.Description(appDescription))
	require.NoError(t, err)

	args = append(args,
		"--api-url", s.fake.URL(),
		"--storage-type", "file",
		"--storage-file", s.storageFile,
	)
	ctx, err := parser.Parse(args)
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	cli.Stdout = &stdout
	cli.Stderr = &stderr
	cli.Prompter = prompter
	require.NoError(t, cli.CheckAndSetDefaults())

	err = ctx.Run(&cli.Globals)
	return stdout.String(), stderr.String(), err
}

func (s *CommandsSuite) TestSessionRoundTrip() {
	stdout, stderr, err := s.run(nil, "login", "--email", testEmail, "--password", testPassword)
	s.Require().NoError(err)
	s.Require().Contains(stdout, testEmail)
	s.Require().NotContains(stdout, "unauthenticated")
	s.Require().Contains(stderr, session.MsgLoginSucceeded)

	_, err = os.Stat(s.storageFile)
	s.Require().NoError(err)

	stdout, _, err = s.run(nil, "whoami")
	s.Require().NoError(err)
	s.Require().Contains(stdout, testEmail)

	stdout, _, err = s.run(nil, "get", "/clients/", "-q", "#.first_name")
	s.Require().NoError(err)
	s.Require().Contains(stdout, "Jane")
	s.Require().Contains(stdout, "John")
	s.Require().NotContains(stdout, "Malaria")

	stdout, _, err = s.run(nil, "token")
	s.Require().NoError(err)
	s.Require().Contains(stdout, "access")
	s.Require().Contains(stdout, "refresh")

	_, stderr, err = s.run(nil, "logout")
	s.Require().NoError(err)
	s.Require().Contains(stderr, session.MsgLoggedOut)

	_, err = os.Stat(s.storageFile)
	s.Require().True(os.IsNotExist(err))

	stdout, _, err = s.run(nil, "whoami")
	s.Require().NoError(err)
	s.Require().Contains(stdout, "unauthenticated")

	_, _, err = s.run(nil, "get", "/clients/")
	s.Require().True(session.IsNoSession(err), "got %v", err)
}

func (s *CommandsSuite) TestLoginPrompts() {
	prompter := fakePrompter{"Email": testEmail, "Password": testPassword}

	stdout, _, err := s.run(prompter, "login")
	s.Require().NoError(err)
	s.Require().Contains(stdout, testEmail)
}

func (s *CommandsSuite) TestLoginFailure() {
	_, stderr, err := s.run(nil, "login", "--email", testEmail, "--password", "wrong")
	s.Require().Error(err)
	s.Require().Contains(stderr, session.MsgLoginFailed)

	_, err = os.Stat(s.storageFile)
	s.Require().True(os.IsNotExist(err))
}

func (s *CommandsSuite) TestRegisterValidation() {
	prompter := fakePrompter{"Confirm password": "12345678"}

	_, stderr, err := s.run(prompter, "register", "--email", "new@example.com", "--password", "12345678")
	s.Require().Error(err)
	s.Require().Contains(stderr, "Password cannot be entirely numeric")
	s.Require().Equal(0, s.fake.TotalCalls())
}

func (s *CommandsSuite) TestRegister() {
	_, stderr, err := s.run(nil, "register",
		"--email", "new@example.com",
		"--password", "abcdefgh1",
		"--password-confirm", "abcdefgh1",
	)
	s.Require().NoError(err)
	s.Require().Contains(stderr, session.MsgRegisterSucceeded)

	stdout, _, err := s.run(nil, "login", "--email", "new@example.com", "--password", "abcdefgh1")
	s.Require().NoError(err)
	s.Require().Contains(stdout, "new@example.com")
}

func (s *CommandsSuite) TestGetRejectsAbsoluteURL() {
	_, _, err := s.run(nil, "login", "--email", testEmail, "--password", testPassword)
	s.Require().NoError(err)
	calls := s.fake.TotalCalls()

	for _, path := range []string{"https://other.example.com/clients/", "//other.example.com/clients/"} {
		_, _, err = s.run(nil, "get", path)
		s.Require().True(trace.IsBadParameter(err), "got %v", err)
	}
	s.Require().Equal(calls, s.fake.TotalCalls())
}

func (s *CommandsSuite) TestDebugPrintsMetrics() {
	_, stderr, err := s.run(nil, "login", "--debug", "--email", testEmail, "--password", testPassword)
	s.Require().NoError(err)
	s.Require().Contains(stderr, "# TYPE tibanode_session_retried_requests_total counter")
	s.Require().Contains(stderr, "tibanode_session_expired_total 0")

	_, stderr, err = s.run(nil, "whoami")
	s.Require().NoError(err)
	s.Require().NotContains(stderr, "tibanode_session")
}

func (s *CommandsSuite) TestVersion() {
	stdout, _, err := s.run(nil, "version")
	s.Require().NoError(err)
	s.Require().Contains(stdout, appName+" v"+Version)
}

func TestDescribeToken(t *testing.T) {
	require.Equal(t, []string{"access", "opaque", "", ""}, describeToken("access", "not-a-jwt"))
}
