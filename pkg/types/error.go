package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies every failure crossing an HTTP boundary.
type ErrorKind string

const (
	KindInvalidProjectName            ErrorKind = "invalid_project_name"
	KindProjectAlreadyExists          ErrorKind = "project_already_exists"
	KindProjectNotFound               ErrorKind = "project_not_found"
	KindProjectUnavailable            ErrorKind = "project_unavailable"
	KindProjectNotReady               ErrorKind = "project_not_ready"
	KindProjectCorrupted              ErrorKind = "project_corrupted"
	KindProjectHasBuildingDeployment  ErrorKind = "project_has_building_deployment"
	KindProjectHasRunningDeployment   ErrorKind = "project_has_running_deployment"
	KindProjectHasResources           ErrorKind = "project_has_resources"
	KindProjectLimitExceeded          ErrorKind = "project_limit_exceeded"
	KindCapacityExhausted             ErrorKind = "capacity_exhausted"
	KindInvalidCustomDomain           ErrorKind = "invalid_custom_domain"
	KindCustomDomainNotFound          ErrorKind = "custom_domain_not_found"
	KindUnauthorized                  ErrorKind = "unauthorized"
	KindForbidden                     ErrorKind = "forbidden"
	KindBadHost                       ErrorKind = "bad_host"
	KindBadRequest                    ErrorKind = "bad_request"
	KindPayloadTooLarge               ErrorKind = "payload_too_large"
	KindUpstream                      ErrorKind = "upstream"
	KindTimeout                       ErrorKind = "timeout"
	KindInternal                      ErrorKind = "internal"
)

// Error is the single boundary taxonomy. Handlers build one of these (or
// wrap an internal error into KindInternal) and the router serializes it
// as {code, message} with the mapped HTTP status.
type Error struct {
	Kind    ErrorKind `json:"code"`
	Message string    `json:"message"`
	cause   error
}

// NewError builds a taxonomy error with a canned message for the kind.
func NewError(kind ErrorKind) *Error {
	return &Error{Kind: kind, Message: defaultMessage(kind)}
}

// NewErrorf builds a taxonomy error with a formatted message.
func NewErrorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a cause without leaking it into the response body.
func WrapError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Message: defaultMessage(kind), cause: cause}
}

// ProjectHasResources builds the special delete failure that lists the
// resources which could not be removed.
func ProjectHasResources(resourceTypes []string) *Error {
	return &Error{
		Kind:    KindProjectHasResources,
		Message: fmt.Sprintf("project has resources that could not be deleted: %s", strings.Join(resourceTypes, ", ")),
	}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the kind onto an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindProjectNotFound, KindCustomDomainNotFound, KindBadHost:
		return http.StatusNotFound
	case KindInvalidProjectName, KindProjectAlreadyExists, KindInvalidCustomDomain,
		KindBadRequest, KindProjectHasBuildingDeployment:
		return http.StatusBadRequest
	case KindProjectLimitExceeded, KindForbidden, KindProjectHasRunningDeployment,
		KindProjectHasResources:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindProjectNotReady, KindCapacityExhausted, KindProjectUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func defaultMessage(kind ErrorKind) string {
	switch kind {
	case KindInvalidProjectName:
		return "invalid project name: must be 3 to 63 lowercase alphanumeric characters with internal hyphens"
	case KindProjectAlreadyExists:
		return "a project with this name already exists"
	case KindProjectNotFound:
		return "project not found; run the init command to create a new project"
	case KindProjectUnavailable:
		return "project returned invalid response"
	case KindProjectNotReady:
		return "project not ready; try again in a few seconds"
	case KindProjectCorrupted:
		return "project could not be recovered; contact support"
	case KindProjectHasBuildingDeployment:
		return "project has a deployment still building; wait for it to finish before deleting"
	case KindProjectHasRunningDeployment:
		return "project has a running deployment; stop it before deleting"
	case KindProjectLimitExceeded:
		return "project limit reached; delete a project or upgrade your account"
	case KindCapacityExhausted:
		return "platform is at capacity; try again shortly"
	case KindInvalidCustomDomain:
		return "invalid custom domain"
	case KindCustomDomainNotFound:
		return "custom domain not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindBadHost:
		return "the 'Host' header is invalid"
	case KindBadRequest:
		return "request is invalid"
	case KindPayloadTooLarge:
		return "request body is too large"
	case KindUpstream:
		return "upstream service returned an error"
	case KindTimeout:
		return "request timed out"
	default:
		return "internal server error"
	}
}
