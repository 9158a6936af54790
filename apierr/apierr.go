package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ApiError is the JSON body of every failed request.
type ApiError struct {
	Tag     string `json:"error"`
	Message string `json:"message"`
}

func (a ApiError) Error() string {
	if a.Message != "" {
		return fmt.Sprintf("%s: %s", a.Tag, a.Message)
	}
	return a.Tag
}

func New(opts ...ErrOpt) ApiError {
	a := ApiError{}
	for _, o := range opts {
		o(&a)
	}

	return a
}

type ErrOpt = func(aerr *ApiError)

func WithTag(tag string) ErrOpt {
	return func(aerr *ApiError) {
		aerr.Tag = tag
	}
}

func WithMessage[S ~string](s S) ErrOpt {
	return func(aerr *ApiError) {
		aerr.Message = string(s)
	}
}

func WithError(e error) ErrOpt {
	return func(aerr *ApiError) {
		aerr.Message = e.Error()
	}
}

var MissingPrincipalError = New(
	WithTag("MissingPrincipal"),
	WithMessage("principal not supplied"),
)

var NotFoundError = func(what string) ApiError {
	return New(
		WithTag("NotFound"),
		WithError(fmt.Errorf("%s not found", what)),
	)
}

var InvalidRequestError = func(err error) ApiError {
	return New(
		WithTag("InvalidRequest"),
		WithError(err),
	)
}

var AccessControlError = func(principal string) ApiError {
	return New(
		WithTag("AccessControl"),
		WithError(fmt.Errorf("principal does not have sufficient access permissions for this operation: %s", principal)),
	)
}

var ConflictError = func(err error) ApiError {
	return New(
		WithTag("Conflict"),
		WithError(err),
	)
}

var UpstreamError = func(err error) ApiError {
	return New(
		WithTag("Upstream"),
		WithError(fmt.Errorf("vcs provider error: %w", err)),
	)
}

func GenericError(err error) ApiError {
	return New(
		WithTag("Generic"),
		WithError(err),
	)
}

func Write(w http.ResponseWriter, e ApiError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

func Unmarshal(errStr string) (ApiError, error) {
	var aerr ApiError
	err := json.Unmarshal([]byte(errStr), &aerr)
	if err != nil {
		return ApiError{}, fmt.Errorf("failed to unmarshal ApiError: %w", err)
	}
	return aerr, nil
}
