package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/intentflow/internal/orchestrator"
)

// IngestEvent answers with the ProcessResult for every request that reached
// the orchestrator, rejected or not.
func (s *Server) IngestEvent(c *gin.Context) {
	var req orchestrator.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.AnonID = strings.TrimSpace(req.AnonID)
	req.EventName = strings.TrimSpace(req.EventName)
	if req.AnonID == "" {
		AbortWithError(c, newValidationError("anonId", "required", "anonId is required"))
		return
	}
	if req.EventName == "" {
		AbortWithError(c, newValidationError("eventName", "required", "eventName is required"))
		return
	}
	c.Set("event_name", req.EventName)

	result := s.orchestrator.Process(c.Request.Context(), apiKeyFromContext(c), req)
	c.Set("process_state", string(result.State))

	c.JSON(processStatus(c, result), result)
}

func processStatus(c *gin.Context, result *orchestrator.ProcessResult) int {
	switch {
	case result.Success:
		return http.StatusOK
	case errors.Is(result.Err, orchestrator.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(result.Err, orchestrator.ErrRateLimited):
		setRetryAfter(c, result.RetryAfter)
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) GetInsights(c *gin.Context) {
	anonID := strings.TrimSpace(c.Query("anon_id"))
	if anonID == "" {
		AbortWithError(c, newValidationError("anon_id", "required", "anon_id is required"))
		return
	}

	resp, err := s.orchestrator.GetUserInsights(c.Request.Context(), apiKeyFromContext(c), anonID, c.Query("window"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetDashboard(c *gin.Context) {
	resp, err := s.orchestrator.GetDashboard(c.Request.Context(), apiKeyFromContext(c), c.Query("window"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
