package proxy

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"grcgateway/pkg/errors"
)

// errorBody is the structured JSON body for every rejected or failed
// request.
type errorBody struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
	Service   string `json:"service,omitempty"`
}

// writeError renders a typed error as JSON and returns the status
// written. Auth errors surface their failure reason as the error kind
// so clients can distinguish a missing token from an expired one.
func (rt *Router) writeError(w http.ResponseWriter, err error, service string) int {
	var gwErr *errors.Error
	if !stderrors.As(err, &gwErr) {
		gwErr = errors.NewError(errors.ErrorTypeInternal, "internal gateway error").WithCause(err)
	}

	kind := string(gwErr.Type)
	if reason, ok := gwErr.AuthReason(); ok {
		kind = string(reason)
	}

	status := gwErr.HTTPStatusCode()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := errorBody{
		ErrorKind: kind,
		Message:   gwErr.Message,
		Service:   service,
	}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		rt.logger.Error("failed to encode error response", "error", encodeErr)
	}

	return status
}
