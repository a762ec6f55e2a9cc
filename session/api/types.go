package api

// LoginRequest is the body of POST /user/login/.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /user/login/refresh/.
type RefreshRequest struct {
	Refresh string `json:"refresh"`
}

// TokenResponse is returned by both login and refresh.
type TokenResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// RegisterRequest is the body of POST /user/register/.
type RegisterRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8,notnumeric"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

// User is the identity returned by GET /user/me/.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}
