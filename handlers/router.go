package handlers

import (
	"net/http"

	"taskboard-project/microservices/api-service/middleware"

	"github.com/gorilla/mux"
)

// NewRouter registers the API routes and wraps them in the middleware chain:
// request id, access log and CORS around the router, metrics inside it.
func NewRouter(tasks *TaskHandler, users *UserHandler, corsOrigin string) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Metrics)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.Handle("/metrics", middleware.MetricsHandler()).Methods(http.MethodGet)

	r.HandleFunc("/api", Home).Methods(http.MethodGet)
	r.HandleFunc("/api/", Home).Methods(http.MethodGet)

	r.HandleFunc("/api/tasks", tasks.GetTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks", tasks.CreateTask).Methods(http.MethodPost)
	r.HandleFunc("/api/tasks/{id}", tasks.GetTask).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}", tasks.UpdateTask).Methods(http.MethodPut)
	r.HandleFunc("/api/tasks/{id}", tasks.DeleteTask).Methods(http.MethodDelete)

	r.HandleFunc("/api/users", users.GetUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users", users.CreateUser).Methods(http.MethodPost)
	r.HandleFunc("/api/users/{id}", users.GetUser).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{id}", users.UpdateUser).Methods(http.MethodPut)
	r.HandleFunc("/api/users/{id}", users.DeleteUser).Methods(http.MethodDelete)

	return middleware.RequestID(middleware.AccessLog(middleware.CORS(corsOrigin)(r)))
}
