package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anstrom/mcscan/internal/db"
)

// Pagination limits.
const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 1000

	defaultStatusLimit = 20
	maxStatusLimit     = 500
)

// PaginationParams represents pagination parameters.
type PaginationParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"offset"`
}

// PaginatedResponse represents a paginated API response.
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		TotalItems int64 `json:"total_items"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

// ServerResponse is one discovered server.
type ServerResponse struct {
	ID          int64  `json:"id"`
	Socket      string `json:"socket"`
	Version     string `json:"version"`
	Description string `json:"description"`
	MaxPlayers  int    `json:"max_players"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// queryInt reads an integer query parameter, falling back to defaultValue
// when it is absent.
func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, value)
	}
	return n, nil
}

// getPaginationParams extracts pagination parameters from request.
func getPaginationParams(r *http.Request) (PaginationParams, error) {
	page, err := queryInt(r, "page", defaultPage)
	if err != nil {
		return PaginationParams{}, err
	}
	if page < 1 {
		page = defaultPage
	}

	pageSize, err := queryInt(r, "page_size", defaultPageSize)
	if err != nil {
		return PaginationParams{}, err
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}, nil
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"service": "mcscan API",
		"version": "v1",
		"endpoints": map[string]string{
			"liveness": "/api/v1/liveness",
			"health":   "/api/v1/health",
			"stats":    "/api/v1/stats",
			"statuses": "/api/v1/statuses",
			"servers":  "/api/v1/servers",
			"metrics":  "/metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"uptime":    s.metrics.GetUptime().String(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    s.metrics.GetUptime().String(),
		Checks:    map[string]string{"database": "ok"},
	}

	statusCode := http.StatusOK
	if err := s.reader.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Checks["database"] = "failed: " + err.Error()
		statusCode = http.StatusServiceUnavailable
	}

	s.writeJSON(w, r, statusCode, response)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.reader.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to get stats: %w", err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, stats)
}

func (s *Server) statusesHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultStatusLimit)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if limit < 1 {
		limit = defaultStatusLimit
	}
	limit = min(limit, maxStatusLimit)

	counts, err := s.reader.StatusCounts(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to count statuses: %w", err))
		return
	}
	s.writeJSON(w, r, http.StatusOK, counts)
}

func (s *Server) serversHandler(w http.ResponseWriter, r *http.Request) {
	params, err := getPaginationParams(r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	total, err := s.reader.CountServers(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to count servers: %w", err))
		return
	}
	views, err := s.reader.ListServers(r.Context(), params.PageSize, params.Offset)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, fmt.Errorf("failed to list servers: %w", err))
		return
	}

	s.writePaginatedResponse(w, r, toServerResponses(views), params, total)
}

func toServerResponses(views []db.ServerView) []ServerResponse {
	out := make([]ServerResponse, len(views))
	for i, v := range views {
		out[i] = ServerResponse{
			ID:          v.ID,
			Socket:      v.Address(),
			Version:     v.Version,
			Description: v.Description,
			MaxPlayers:  v.MaxPlayers,
		}
	}
	return out
}

// writePaginatedResponse writes a paginated response.
func (s *Server) writePaginatedResponse(
	w http.ResponseWriter,
	r *http.Request,
	data interface{},
	params PaginationParams,
	totalItems int64,
) {
	totalPages := int((totalItems + int64(params.PageSize) - 1) / int64(params.PageSize))

	response := PaginatedResponse{Data: data}
	response.Pagination.Page = params.Page
	response.Pagination.PageSize = params.PageSize
	response.Pagination.TotalItems = totalItems
	response.Pagination.TotalPages = totalPages

	s.writeJSON(w, r, http.StatusOK, response)
}
