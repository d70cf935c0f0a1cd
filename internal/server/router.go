package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/medgraph-backend/internal/enrich"
	"github.com/yungbote/medgraph-backend/internal/platform/logger"
	"github.com/yungbote/medgraph-backend/internal/platform/ragerr"
	"github.com/yungbote/medgraph-backend/internal/rag"
)

// PipelineAPI is the slice of the RAG pipeline the HTTP surface exposes.
type PipelineAPI interface {
	AnswerQuestion(ctx context.Context, query string, opts rag.BuildOptions) (*rag.Answer, error)
	EnrichNode(ctx context.Context, nodeID string) (enrich.Summary, error)
}

// RouterConfig wires the handlers.
type RouterConfig struct {
	Pipeline    PipelineAPI
	CORSOrigins []string
	Log         *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	h := &handlers{pipeline: cfg.Pipeline, log: cfg.Log.With("component", "HTTP")}

	router.GET("/healthcheck", h.healthCheck)
	api := router.Group("/api")
	{
		api.POST("/query", h.query)
		api.POST("/enrich", h.enrichNode)
	}

	return router
}

type handlers struct {
	pipeline PipelineAPI
	log      *logger.Logger
}

func (h *handlers) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type queryRequest struct {
	Query           string `json:"query" binding:"required"`
	IncludeConcepts *bool  `json:"include_concepts"`
	MaxFacts        int    `json:"max_facts"`
	MaxEntities     int    `json:"max_entities"`
}

func (h *handlers) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	includeConcepts := true
	if req.IncludeConcepts != nil {
		includeConcepts = *req.IncludeConcepts
	}

	ans, err := h.pipeline.AnswerQuestion(c.Request.Context(), req.Query, rag.BuildOptions{
		IncludeConcepts: includeConcepts,
		MaxFacts:        req.MaxFacts,
		MaxEntities:     req.MaxEntities,
	})
	if err != nil {
		h.log.Warn("query aborted", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "request aborted"})
		return
	}
	c.JSON(http.StatusOK, ans)
}

type enrichRequest struct {
	NodeUUID string `json:"node_uuid" binding:"required"`
}

func (h *handlers) enrichNode(c *gin.Context) {
	var req enrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sum, err := h.pipeline.EnrichNode(c.Request.Context(), req.NodeUUID)
	if err != nil {
		if errors.Is(err, rag.ErrNodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		h.log.Error("enrich failed", "node", req.NodeUUID, "error", err)
		c.JSON(statusFor(err), gin.H{"error": "enrichment failed", "summary": sum})
		return
	}
	c.JSON(http.StatusOK, sum)
}

func statusFor(err error) int {
	switch ragerr.KindOf(err) {
	case ragerr.KindAuthFailed:
		return http.StatusBadGateway
	case ragerr.KindConnectionClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
