package model

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Context carries a machine-readable "reason" plus any extra payload, such as
// the generated password suggestion on a weak-password rejection.
type ErrorDetail struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// UsageLogs is the LOGS response body.
type UsageLogs struct {
	Logs []UsageLog `json:"logs"`
}
