package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"taskboard-project/microservices/api-service/logging"
	"taskboard-project/microservices/api-service/middleware"
	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/services"
)

// Response is the envelope of every API reply.
type Response struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

const (
	msgBadRequest     = "Bad Request"
	msgInternalServer = "Internal Server Error"
)

func writeJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Message: message, Data: data}); err != nil {
		logging.Logger.Errorf("Event ID: RESPONSE_ENCODE_FAILED, Description: %v", err)
	}
}

// resource names the entity a handler serves in client-facing messages.
type resource struct {
	singular string
	plural   string
}

var (
	taskResource = resource{singular: "Task", plural: "Tasks"}
	userResource = resource{singular: "User", plural: "Users"}
)

func (res resource) notFound() string { return res.singular + " Not Found" }

// writeError maps err to a status code. Anything that is not a client error
// is logged and answered with fallback so internals never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, res resource, err error, fallback string) {
	var (
		perr *query.ParamError
		berr *bodyError
		serr *services.Error
	)
	switch {
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadRequest, msgBadRequest, perr.Detail())
	case errors.As(err, &berr):
		writeJSON(w, http.StatusBadRequest, msgBadRequest, berr.detail)
	case errors.As(err, &serr) && serr.Kind == services.KindNotFound:
		writeJSON(w, http.StatusNotFound, res.notFound(), serr.Detail)
	case errors.As(err, &serr) && serr.Kind != services.KindStore:
		writeJSON(w, http.StatusBadRequest, msgBadRequest, serr.Detail)
	default:
		middleware.Logger(r).WithError(err).Errorf("Event ID: REQUEST_HANDLER_FAILED, Description: %s %s: %s", r.Method, r.URL.Path, fallback)
		writeJSON(w, http.StatusInternalServerError, msgInternalServer, fallback)
	}
}
