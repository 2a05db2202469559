package handlers

import (
	"net/http"

	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/services"

	"github.com/gorilla/mux"
)

type UserHandler struct {
	service *services.UserService
}

func NewUserHandler(service *services.UserService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) GetUsers(w http.ResponseWriter, r *http.Request) {
	const failed = "Failed to retrieve users"

	q, err := query.Parse(r.URL.Query(), services.UserQueryOptions)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}

	if q.Count {
		n, err := h.service.CountUsers(r.Context(), q.Filter)
		if err != nil {
			writeError(w, r, userResource, err, failed)
			return
		}
		writeJSON(w, http.StatusOK, "Users count retrieved successfully", n)
		return
	}

	users, err := h.service.ListUsers(r.Context(), q)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	if q.TargetsID() && len(users) == 0 {
		writeJSON(w, http.StatusNotFound, userResource.notFound(), services.MsgUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, "Users retrieved successfully", users)
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	const failed = "Could not create user"

	in, err := decodeUser(w, r)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	user, err := h.service.CreateUser(r.Context(), in)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	writeJSON(w, http.StatusCreated, "User created successfully", user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	const failed = "Failed to retrieve user"

	projection, err := query.ParseProjection(r.URL.Query())
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	user, err := h.service.GetUser(r.Context(), mux.Vars(r)["id"], projection)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	writeJSON(w, http.StatusOK, "User retrieved successfully", user)
}

// UpdateUser replaces name, email and pendingTasks. Tasks dropped from the
// list are unassigned.
func (h *UserHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	const failed = "Could not update user"

	in, err := decodeUser(w, r)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	user, err := h.service.UpdateUser(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, r, userResource, err, failed)
		return
	}
	writeJSON(w, http.StatusOK, "User updated successfully", user)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.DeleteUser(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, userResource, err, "Could not delete user")
		return
	}
	writeJSON(w, http.StatusOK, "User deleted successfully", "User and their pending tasks were unassigned")
}
