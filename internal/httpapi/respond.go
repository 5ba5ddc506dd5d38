package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// maxBodyBytes caps request bodies. Imports are the largest legitimate ones.
const maxBodyBytes = 16 << 20

var json = jsoniter.Config{
	EscapeHTML:  true,
	SortMapKeys: true,
	UseNumber:   true,
}.Froze()

// ErrorBody is the JSON shape of every failed request.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the engine error kind so clients can branch on it.
type ErrorDetail struct {
	Kind       schemas.ErrorKind      `json:"kind,omitempty"`
	Validation schemas.ValidationKind `json:"validation,omitempty"`
	EntityID   string                 `json:"id,omitempty"`
	Message    string                 `json:"message"`
}

// statusFor maps an engine error to an HTTP status.
func statusFor(err error) int {
	var ee *schemas.EngineError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		// nginx's "client closed request".
		return 499
	case !errors.As(err, &ee):
		return http.StatusInternalServerError
	}
	switch ee.Kind {
	case schemas.KindNotFound, schemas.KindActionNotFound, schemas.KindSnapshotNotFound:
		return http.StatusNotFound
	case schemas.KindDuplicateID, schemas.KindProjectMismatch:
		return http.StatusConflict
	case schemas.KindValidation, schemas.KindSelfLoopRejected:
		return http.StatusUnprocessableEntity
	case schemas.KindInvalidInput:
		return http.StatusBadRequest
	case schemas.KindGeneration:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("Failed to write response body.", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	detail := ErrorDetail{Message: err.Error()}
	var ee *schemas.EngineError
	if errors.As(err, &ee) {
		detail.Kind, detail.Validation, detail.EntityID = ee.Kind, ee.Validation, ee.EntityID
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed.", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		if status == http.StatusInternalServerError {
			detail.Message = "internal error"
		}
	}
	s.respondJSON(w, status, ErrorBody{Error: detail})
}

// decode reads a JSON body into dst and runs struct validation on it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	const op = "httpapi.decode"
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return schemas.NewInvalidInputError(op, "", "request body is empty")
		}
		return schemas.NewInvalidInputError(op, "", "malformed request body: %v", err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return schemas.NewInvalidInputError(op, "", "%s", strings.Join(msgs, "; "))
		}
		return schemas.NewInvalidInputError(op, "", "%v", err)
	}
	return nil
}
