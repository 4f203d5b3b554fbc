package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
)

type createTenantRequest struct {
	CustomerID string         `json:"customer_id"`
	PlanType   string         `json:"plan_type"`
	Metadata   map[string]any `json:"metadata"`
}

type changePlanRequest struct {
	PlanType string `json:"plan_type"`
}

func (s *Server) CreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.orchestrator.CreateTenant(c.Request.Context(), tenantdomain.CreateRequest{
		CustomerID: strings.TrimSpace(req.CustomerID),
		PlanType:   strings.TrimSpace(req.PlanType),
		Metadata:   req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("plan_type", resp.PlanType)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListTenants(c *gin.Context) {
	var query tenantdomain.ListRequest
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tenantSvc.List(c.Request.Context(), tenantdomain.ListRequest{
		CustomerID: strings.TrimSpace(query.CustomerID),
		PageToken:  strings.TrimSpace(query.PageToken),
		PageSize:   query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) SuspendTenant(c *gin.Context) {
	resp, err := s.tenantSvc.Suspend(c.Request.Context(), c.Param("apiKey"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ReactivateTenant(c *gin.Context) {
	resp, err := s.tenantSvc.Reactivate(c.Request.Context(), c.Param("apiKey"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ChangeTenantPlan(c *gin.Context) {
	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tenantSvc.ChangePlan(c.Request.Context(), c.Param("apiKey"), strings.TrimSpace(req.PlanType))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("plan_type", resp.PlanType)
	c.JSON(http.StatusOK, resp)
}
