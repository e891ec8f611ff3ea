package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/PaulBabatuyi/recircle-chat/internal/auth"
	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"github.com/go-playground/validator/v10"
)

var (
	errInvalidCredentials = errors.New("email/password mismatch")
	errValidation         = errors.New("validation failed")
)

// RegisterRequest is the sign-up body.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=80"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72,password"`
}

// LoginRequest is the sign-in body.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is returned by sign-up and sign-in.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Profile   data.Profile `json:"profile"`
}

// strongPassword requires upper case, lower case, a digit and a symbol.
func strongPassword(fl validator.FieldLevel) bool {
	var upper, lower, digit, symbol bool
	for _, r := range fl.Field().String() {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}

// check validates req and flattens the first failure into errValidation.
func (s *Server) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%w: %s is missing", errValidation, field)
		case "password":
			return fmt.Errorf("%w: password is not safe enough", errValidation)
		default:
			return fmt.Errorf("%w: %s is invalid (%s)", errValidation, field, fe.Tag())
		}
	}
	return fmt.Errorf("%w: %v", errValidation, err)
}

// register hashes the password, stores the user and returns a session token.
func (s *Server) register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, req.Name, req.Email, hashed)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// login authenticates a user and returns a session token.
func (s *Server) login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return nil, errInvalidCredentials
		}
		return nil, err
	}
	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return nil, errInvalidCredentials
	}
	return s.issue(user)
}

func (s *Server) issue(user *data.User) (*AuthResponse, error) {
	token, expiresAt, err := s.auth.GenerateToken(user.ID.Hex(), user.Name)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return &AuthResponse{Token: token, ExpiresAt: expiresAt, Profile: user.Profile()}, nil
}

// decodeJSON reads a single JSON object body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body", errValidation)
	}
	return nil
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.register(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.login(r.Context(), &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := getClaimsFromContext(r.Context())
	p, err := s.users.FindProfile(r.Context(), claims.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"profile": p})
}
