package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Fault mirrors the error envelope the QuickBooks API returns on 4xx/5xx
// responses.
type Fault struct {
	Fault struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

// ParseRemoteFault translates an API error response into a QBError. Timeouts
// and 5xx statuses become retryable transient errors; 401 signals an expired
// token; everything else is a hard remote fault.
func ParseRemoteFault(operation string, statusCode int, body []byte, intuitTID string) *QBError {
	message := faultMessage(statusCode, body)

	var code ErrorCode
	switch {
	case statusCode == http.StatusUnauthorized:
		code = CodeAuthExpired
	case statusCode >= 500 || statusCode == http.StatusTooManyRequests:
		code = CodeRemoteTransient
	default:
		code = CodeRemoteFault
	}

	result := RemoteError(code, operation, nil).
		WithContext("status_code", statusCode).
		WithContext("detail", message)
	if intuitTID != "" {
		result = result.WithContext("intuit_tid", intuitTID)
	}
	return result
}

// faultMessage extracts the first fault message from the response body,
// falling back to a truncated raw body for non-JSON responses.
func faultMessage(statusCode int, body []byte) string {
	var fault Fault
	if err := json.Unmarshal(body, &fault); err == nil && len(fault.Fault.Error) > 0 {
		e := fault.Fault.Error[0]
		if e.Detail != "" {
			return fmt.Sprintf("%s: %s", e.Message, e.Detail)
		}
		if e.Message != "" {
			return e.Message
		}
	}

	raw := strings.TrimSpace(string(body))
	if len(raw) > 500 {
		raw = raw[:500]
	}
	if raw == "" {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	return raw
}
