package history

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aevon-lab/project-tracklog/internal/autograph"
	httperr "github.com/aevon-lab/project-tracklog/internal/core/errors"
	"github.com/aevon-lab/project-tracklog/internal/core/storage"
)

// RegisterRoutes registers all history API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/v1")
	v1.GET("/schemas", s.HandleListSchemas)
	v1.GET("/schemas/:schema_id/devices", s.HandleListDevices)
	v1.GET("/schemas/:schema_id/online", s.HandleOnline)
	v1.GET("/parameters", s.HandleListParameters)
	v1.POST("/history", s.HandleHistory)
	v1.POST("/history/buckets", s.HandleBuckets)
	v1.POST("/trips/total", s.HandleTripsTotal)
	v1.GET("/snapshots/latest", s.HandleLatestSnapshot)
}

// HandleListSchemas handles GET /v1/schemas
func (s *Service) HandleListSchemas(c *gin.Context) {
	schemas, err := s.Schemas(c.Request.Context())
	if err != nil {
		writeError(c, err, "Failed to list schemas")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schemas": schemas, "default_schema": s.DefaultSchema()})
}

// HandleListDevices handles GET /v1/schemas/:schema_id/devices
func (s *Service) HandleListDevices(c *gin.Context) {
	var uri struct {
		SchemaID string `uri:"schema_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	devices, err := s.Devices(c.Request.Context(), uri.SchemaID)
	if err != nil {
		writeError(c, err, "Failed to list devices")
		return
	}
	c.JSON(http.StatusOK, gin.H{"schema_id": uri.SchemaID, "devices": devices})
}

// HandleOnline handles GET /v1/schemas/:schema_id/online?device_ids=D1,D2
// Without device_ids every device of the schema is reported.
func (s *Service) HandleOnline(c *gin.Context) {
	var uri struct {
		SchemaID string `uri:"schema_id" binding:"required"`
	}
	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	var ids []string
	for _, v := range c.QueryArray("device_ids") {
		ids = append(ids, strings.Split(v, ",")...)
	}

	res, err := s.Online(c.Request.Context(), uri.SchemaID, ids)
	if err != nil {
		writeError(c, err, "Failed to load online info")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleListParameters handles GET /v1/parameters
func (s *Service) HandleListParameters(c *gin.Context) {
	cat := s.Parameters()
	c.JSON(http.StatusOK, gin.H{
		"groups":      cat.Groups,
		"fallback":    cat.FallbackParameters(),
		"fingerprint": cat.Fingerprint,
	})
}

// HandleHistory handles POST /v1/history
// Body: {schema_id?, device_ids, start_date, end_date}
func (s *Service) HandleHistory(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	res, err := s.History(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "Failed to load history")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleBuckets handles POST /v1/history/buckets
// Body: {schema_id?, device_ids, start_date, end_date, resolution, params?}
func (s *Service) HandleBuckets(c *gin.Context) {
	var req BucketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	res, err := s.Buckets(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "Failed to aggregate history")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleTripsTotal handles POST /v1/trips/total
// Body: {schema_id?, device_ids, start_date, end_date}
func (s *Service) HandleTripsTotal(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid request body",
			Details:   err.Error(),
		})
		return
	}

	res, err := s.TripsTotal(c.Request.Context(), req)
	if err != nil {
		writeError(c, err, "Failed to load trip totals")
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleLatestSnapshot handles GET /v1/snapshots/latest?schema_id=
func (s *Service) HandleLatestSnapshot(c *gin.Context) {
	snap, err := s.LatestSnapshot(c.Request.Context(), c.Query("schema_id"))
	if err != nil {
		writeError(c, err, "Failed to load snapshot")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func writeError(c *gin.Context, err error, message string) {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid history query",
			Details:   err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpNotFoundError,
			Message:   "Snapshot not found",
			Details:   err.Error(),
		})
	case errors.Is(err, autograph.ErrUnauthorized):
		c.JSON(http.StatusBadGateway, httperr.ErrorResponse{
			ErrorType: httperr.HttpUpstreamAuthError,
			Message:   "Upstream session could not be obtained",
			Details:   err.Error(),
		})
	case errors.Is(err, ErrUpstream):
		c.JSON(http.StatusBadGateway, httperr.ErrorResponse{
			ErrorType: httperr.HttpUpstreamDownError,
			Message:   message,
			Details:   err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   message,
			Details:   err.Error(),
		})
	}
}
