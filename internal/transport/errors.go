package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is returned for any response outside the 2xx range.
type StatusError struct {
	// Service is the name given to the client, e.g. "gitea".
	Service string

	StatusCode int
	Method     string
	Endpoint   string

	// Message is the error text reported by the remote API, if any.
	Message string

	// Body is the raw response body.
	Body []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error (%d) at %s %s: %s",
		e.Service, e.StatusCode, e.Method, e.Endpoint, e.Message)
}

// Unauthorized reports a 401 response.
func (e *StatusError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

func newStatusError(service, method, path string, resp *Response) *StatusError {
	e := &StatusError{
		Service:    service,
		StatusCode: resp.StatusCode,
		Method:     method,
		Endpoint:   path,
		Body:       resp.Body,
	}
	e.Message = parseMessage(resp.Body)
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}

// parseMessage understands the JSON error shapes of the supported APIs.
func parseMessage(body []byte) string {
	var shape struct {
		Message any    `json:"message"`
		Error   any    `json:"error"`
		Detail  string `json:"error_description"`
	}
	if json.Unmarshal(body, &shape) != nil {
		return ""
	}
	for _, v := range []any{shape.Message, shape.Error} {
		switch m := v.(type) {
		case string:
			if m != "" {
				if shape.Detail != "" {
					return m + ": " + shape.Detail
				}
				return m
			}
		case map[string]any:
			// Bitbucket nests {"error": {"message": "..."}}.
			if s, ok := m["message"].(string); ok && s != "" {
				return s
			}
			return fmt.Sprint(m)
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, "; ")
		}
	}
	return ""
}
