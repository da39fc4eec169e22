package server

import (
	"net/http"

	"github.com/shakram02/sqlproxy/internal/proxy"
)

type errorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

var statusByKind = map[string]int{
	proxy.KindInvalidConnectionString: http.StatusBadRequest,
	proxy.KindNotConnected:            http.StatusConflict,
	proxy.KindPermissionDenied:        http.StatusForbidden,
	proxy.KindConnectionFailure:       http.StatusBadGateway,
	proxy.KindExecutionFailure:        http.StatusUnprocessableEntity,
	proxy.KindTimeout:                 http.StatusGatewayTimeout,
}

// classifyError maps an engine error to an HTTP status and its kind name.
func classifyError(err error) (int, string) {
	kind := proxy.ErrorKind(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	return status, kind
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, kind := classifyError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Detail: err.Error(), Error: kind})
}
