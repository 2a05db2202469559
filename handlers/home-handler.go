package handlers

import "net/http"

func Home(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "OK", "Task API is running")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, "Not Found", "Route not found")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported on "+r.URL.Path)
}
