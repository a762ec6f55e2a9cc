// Package fakeapi is an in-process stand-in for the clinic REST API used by tests.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

var signingKey = []byte("fake-api-signing-key")

type account struct {
	id       int64
	email    string
	password string
}

// Request is a recorded incoming request.
type Request struct {
	Method        string
	Path          string
	Authorization string
	RequestID     string
}

// Server is a fake API server. Tokens are signed JWTs unless granted
// explicitly with GrantTokens.
type Server struct {
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	access   map[string]int64
	refresh  map[string]int64
	nextID   int64
	seq      int
	requests []Request

	meStatus     int
	loginStatus  int
	loginAccess  string
	loginRefresh string
	now          func() time.Time
}

// New starts a fake API server. Call Close when done.
func New() *Server {
	router := httprouter.New()
	s := &Server{
		accounts: make(map[string]*account),
		access:   make(map[string]int64),
		refresh:  make(map[string]int64),
		now:      time.Now,
	}
	s.srv = httptest.NewServer(s.recordRequests(router))

	router.POST("/api/user/login/", s.handleLogin)
	router.POST("/api/user/login/refresh/", s.handleRefresh)
	router.POST("/api/user/register/", s.handleRegister)
	router.GET("/api/user/me/", s.handleMe)
	router.GET("/api/clients/", s.handleClients)

	return s
}

// URL is the API base URL.
func (s *Server) URL() string {
	return s.srv.URL + "/api"
}

func (s *Server) Close() {
	s.srv.Close()
}

// AddUser registers an account and returns its id.
func (s *Server) AddUser(email, password string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(email, password)
}

func (s *Server) addUserLocked(email, password string) int64 {
	s.nextID++
	s.accounts[strings.ToLower(email)] = &account{id: s.nextID, email: email, password: password}
	return s.nextID
}

// GrantTokens makes the given literal tokens valid for the user.
func (s *Server) GrantTokens(userID int64, access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if access != "" {
		s.access[access] = userID
	}
	if refresh != "" {
		s.refresh[refresh] = userID
	}
}

// ExpireAccess invalidates an access token.
func (s *Server) ExpireAccess(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, token)
}

// RevokeRefresh invalidates a refresh token.
func (s *Server) RevokeRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, token)
}

// SetMeStatus makes /user/me/ answer authenticated requests with the status.
// Zero restores normal behavior.
func (s *Server) SetMeStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meStatus = code
}

// SetLoginStatus makes /user/login/ answer every request with the status.
// Zero restores normal behavior.
func (s *Server) SetLoginStatus(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginStatus = code
}

// SetLoginTokens makes successful logins issue the given literal tokens.
func (s *Server) SetLoginTokens(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loginAccess, s.loginRefresh = access, refresh
}

// Requests returns recorded requests for the path (relative to the base URL).
func (s *Server) Requests(path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []Request
	for _, req := range s.requests {
		if req.Path == "/api"+path {
			result = append(result, req)
		}
	}
	return result
}

// Calls counts requests to the path.
func (s *Server) Calls(path string) int {
	return len(s.Requests(path))
}

// TotalCalls counts all requests.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(rw, r)
	})
}

func (s *Server) handleLogin(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	if status := s.loginStatus; status != 0 {
		s.mu.Unlock()
		writeJSON(rw, status, map[string]string{"detail": http.StatusText(status)})
		return
	}
	acc, ok := s.accounts[strings.ToLower(body.Email)]
	if !ok || acc.password != body.Password {
		s.mu.Unlock()
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	access, refresh := s.loginAccess, s.loginRefresh
	if access == "" {
		access, refresh = s.issueLocked(acc.id)
	} else {
		s.access[access] = acc.id
		s.refresh[refresh] = acc.id
	}
	s.mu.Unlock()

	writeJSON(rw, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRefresh(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"detail": "malformed body"})
		return
	}

	s.mu.Lock()
	userID, ok := s.refresh[body.Refresh]
	if !ok {
		s.mu.Unlock()
		writeJSON(rw, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	// rotation: the old refresh token is blacklisted
	delete(s.refresh, body.Refresh)
	access, refresh := s.issueLocked(userID)
	s.mu.Unlock()

	writeJSON(rw, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) handleRegister(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body struct {
		Email           string `json:"email"`
		Password        string `json:"password"`
		PasswordConfirm string `json:"password_confirm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"message": "malformed body"})
		return
	}

	errs := make(map[string][]string)
	if body.Password != body.PasswordConfirm {
		errs["password"] = append(errs["password"], "Password fields didn't match.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[strings.ToLower(body.Email)]; exists {
		errs["email"] = append(errs["email"], "user with this email already exists.")
	}
	if len(errs) > 0 {
		writeJSON(rw, http.StatusBadRequest, errs)
		return
	}
	s.addUserLocked(body.Email, body.Password)
	writeJSON(rw, http.StatusCreated, map[string]string{})
}

func (s *Server) handleMe(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	acc, ok := s.authenticate(r)
	if !ok {
		writeUnauthorized(rw)
		return
	}

	s.mu.Lock()
	status := s.meStatus
	s.mu.Unlock()
	if status != 0 {
		writeJSON(rw, status, map[string]string{"detail": http.StatusText(status)})
		return
	}

	writeJSON(rw, http.StatusOK, map[string]interface{}{"id": acc.id, "email": acc.email})
}

func (s *Server) handleClients(rw http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if _, ok := s.authenticate(r); !ok {
		writeUnauthorized(rw)
		return
	}
	writeJSON(rw, http.StatusOK, []map[string]interface{}{
		{"id": 1, "first_name": "Jane", "last_name": "Doe", "programs": []string{"TB", "HIV"}},
		{"id": 2, "first_name": "John", "last_name": "Roe", "programs": []string{"Malaria"}},
	})
}

func (s *Server) authenticate(r *http.Request) (*account, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.access[token]
	if !ok || token == "" {
		return nil, false
	}
	for _, acc := range s.accounts {
		if acc.id == userID {
			return acc, true
		}
	}
	return nil, false
}

func (s *Server) issueLocked(userID int64) (string, string) {
	s.seq++
	now := s.now()
	access := s.signLocked(jwt.MapClaims{
		"token_type": "access",
		"user_id":    userID,
		"jti":        fmt.Sprintf("access-%d", s.seq),
		"iat":        now.Unix(),
		"exp":        now.Add(5 * time.Minute).Unix(),
	})
	refresh := s.signLocked(jwt.MapClaims{
		"token_type": "refresh",
		"user_id":    userID,
		"jti":        fmt.Sprintf("refresh-%d", s.seq),
		"iat":        now.Unix(),
		"exp":        now.Add(24 * time.Hour).Unix(),
	})
	s.access[access] = userID
	s.refresh[refresh] = userID
	return access, refresh
}

func (s *Server) signLocked(claims jwt.MapClaims) string {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	if err != nil {
		panic(err)
	}
	return token
}

func writeUnauthorized(rw http.ResponseWriter) {
	writeJSON(rw, http.StatusUnauthorized, map[string]string{
		"detail": "Given token not valid for any token type",
		"code":   "token_not_valid",
	})
}

func writeJSON(rw http.ResponseWriter, code int, body interface{}) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(body); err != nil {
		panic(err)
	}
}
