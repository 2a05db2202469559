package handlers

import (
	"net/http"

	"taskboard-project/microservices/api-service/query"
	"taskboard-project/microservices/api-service/services"

	"github.com/gorilla/mux"
)

type TaskHandler struct {
	service *services.TaskService
}

func NewTaskHandler(service *services.TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

// GetTasks lists tasks or, with count=true, counts them.
func (h *TaskHandler) GetTasks(w http.ResponseWriter, r *http.Request) {
	const failed = "Failed to retrieve tasks"

	q, err := query.Parse(r.URL.Query(), services.TaskQueryOptions)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}

	if q.Count {
		n, err := h.service.CountTasks(r.Context(), q.Filter)
		if err != nil {
			writeError(w, r, taskResource, err, failed)
			return
		}
		writeJSON(w, http.StatusOK, "Tasks count retrieved successfully", n)
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), q)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	if q.TargetsID() && len(tasks) == 0 {
		writeJSON(w, http.StatusNotFound, taskResource.notFound(), services.MsgTaskNotFound)
		return
	}
	writeJSON(w, http.StatusOK, "Tasks retrieved successfully", tasks)
}

func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	const failed = "Could not create task"

	in, err := decodeTask(w, r)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	task, err := h.service.CreateTask(r.Context(), in)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	writeJSON(w, http.StatusCreated, "Task created successfully", task)
}

func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	const failed = "Failed to retrieve task"

	projection, err := query.ParseProjection(r.URL.Query())
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	task, err := h.service.GetTask(r.Context(), mux.Vars(r)["id"], projection)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	writeJSON(w, http.StatusOK, "Task retrieved successfully", task)
}

// UpdateTask replaces the task's writable fields.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	const failed = "Could not update task"

	in, err := decodeTask(w, r)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	task, err := h.service.UpdateTask(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, r, taskResource, err, failed)
		return
	}
	writeJSON(w, http.StatusOK, "Task updated successfully", task)
}

func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.DeleteTask(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, taskResource, err, "Could not delete task")
		return
	}
	writeJSON(w, http.StatusOK, "Task deleted successfully", "Task was deleted and unassigned from any user")
}
