package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("/api/jobs/trigger", s.app.JobHandler.TriggerJobHandler) // POST - submit a run request
	mux.HandleFunc("/api/jobs", s.app.JobHandler.ListJobsHandler)           // GET - list jobs
	mux.HandleFunc("/api/jobs/", s.handleJobRoutes)                         // GET /{id}, GET /{id}/logs, POST /{id}/cancel

	// API routes - Data sources and models
	mux.HandleFunc("/api/datasources", s.handleDataSourcesRoute) // GET (list), POST (create)
	mux.HandleFunc("/api/datasources/", s.handleDataSourceRoutes)
	mux.HandleFunc("/api/models", s.app.DataSourceHandler.ListModelsHandler)

	// API routes - System
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleJobRoutes routes job-related requests to the appropriate handler
func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	// GET /api/jobs/{id}/logs
	if strings.HasSuffix(path, "/logs") {
		jobID := strings.TrimSuffix(path, "/logs")
		s.app.JobHandler.JobLogsHandler(w, r, jobID)
		return
	}

	// POST /api/jobs/{id}/cancel
	if strings.HasSuffix(path, "/cancel") {
		jobID := strings.TrimSuffix(path, "/cancel")
		s.app.JobHandler.CancelJobHandler(w, r, jobID)
		return
	}

	// GET /api/jobs/{id}
	if !strings.Contains(path, "/") {
		s.app.JobHandler.GetJobHandler(w, r, path)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

// handleDataSourcesRoute dispatches list/create on the collection path
func (s *Server) handleDataSourcesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.DataSourceHandler.ListDataSourcesHandler(w, r)
	case http.MethodPost:
		s.app.DataSourceHandler.CreateDataSourceHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleDataSourceRoutes routes /api/datasources/{id}
func (s *Server) handleDataSourceRoutes(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/datasources/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.app.DataSourceHandler.GetDataSourceHandler(w, r, id)
}
