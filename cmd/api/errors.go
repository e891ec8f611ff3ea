package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// envelope is the shape of every JSON response body.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeMessage writes {"message": msg}, the error body clients expect.
func writeMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, envelope{"message": msg})
}

// httpStatus classifies a store error.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errValidation), errors.Is(err, data.ErrInvalidID), errors.Is(err, data.ErrEmptyContent):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, errInvalidCredentials):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, data.ErrNotParticipant):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, data.ErrUserExists):
		return http.StatusConflict, "email already in use"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError maps err to its response and logs anything unexpected.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := httpStatus(err)
	if code == http.StatusInternalServerError {
		s.serverError(w, r, err)
		return
	}
	writeMessage(w, code, msg)
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("http.handler.fail", "method", r.Method, "path", r.URL.Path, "err", err)
	writeMessage(w, http.StatusInternalServerError, "internal error")
}

// grpcError maps err onto the gRPC status space.
func (s *Server) grpcError(method string, err error) error {
	switch {
	case errors.Is(err, errValidation), errors.Is(err, data.ErrInvalidID), errors.Is(err, data.ErrEmptyContent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, data.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, data.ErrNotParticipant):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, data.ErrUserExists):
		return status.Error(codes.AlreadyExists, "email already in use")
	default:
		s.log.Error("grpc.handler.fail", "method", method, "err", err)
		return status.Error(codes.Internal, "internal error")
	}
}
