package errors

const (
	HttpInternalError     = "internal_error"
	HttpInvalidJsonError  = "invalid_json"
	HttpInvalidQueryError = "invalid_query"
	HttpNotFoundError     = "not_found"
	HttpUpstreamAuthError = "upstream_auth_failed"
	HttpUpstreamDownError = "upstream_unavailable"
)

// ErrorResponse is the error body returned by every API endpoint.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
