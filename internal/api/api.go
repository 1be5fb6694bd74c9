package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sliink/commitstream/internal/api/docs"
	"github.com/sliink/commitstream/internal/checkpoint"
	"github.com/sliink/commitstream/internal/model"
	"github.com/sliink/commitstream/internal/telemetry"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/attribute"
)

// Controller is the part of the runtime the API exposes
type Controller interface {
	GetStatus() model.ComponentStatus
	GetHealthStatus() model.HealthStatus
	SourceStatus() []model.SourceStatus
	Source(id string) (model.SourceStatus, bool)
	CheckpointNow(ctx context.Context, id string) (checkpoint.Snapshot, error)
	Errors() map[string]error
	ConfigSnapshot() map[string]interface{}
}

// API represents the REST API for commitstream
type API struct {
	ctl    Controller
	router *gin.Engine
	server *http.Server
	port   int
	host   string
	logger *slog.Logger
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Status  model.ComponentStatus `json:"status"`
	Health  model.HealthStatus    `json:"health"`
	Sources []model.SourceStatus  `json:"sources"`
	Errors  map[string]string     `json:"errors,omitempty"`
}

// CheckpointResponse is returned by POST /sources/{id}/checkpoint
type CheckpointResponse struct {
	CheckpointID int64     `json:"checkpoint_id"`
	SourceID     string    `json:"source_id"`
	Cursor       time.Time `json:"cursor"`
	TakenAt      time.Time `json:"taken_at"`
}

// ErrorResponse carries an error message
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewAPI creates a new API instance
// @title           commitstream API
// @version         1.0
// @description     Inspect and checkpoint the commit sources of a running commitstream

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8080
// @BasePath  /
func NewAPI(ctl Controller, port int, host string) *API {
	docs.SwaggerInfo.Host = fmt.Sprintf("%s:%d", host, port)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	api := &API{
		ctl:    ctl,
		router: router,
		port:   port,
		host:   host,
		logger: slog.Default().With("component", "api"),
	}
	router.Use(gin.Recovery(), api.instrument())
	api.setupRoutes()

	return api
}

// setupRoutes configures all the API routes
func (a *API) setupRoutes() {
	a.router.GET("/health", a.healthCheck)
	a.router.GET("/status", a.getStatus)

	sources := a.router.Group("/sources")
	{
		sources.GET("", a.getSources)
		sources.GET("/:id", a.getSource)
		sources.POST("/:id/checkpoint", a.checkpointSource)
	}

	a.router.GET("/config", a.getConfig)

	a.router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
}

// instrument wraps every request in a span and logs it at debug level
func (a *API) instrument() gin.HandlerFunc {
	tracer := telemetry.Tracer("commitstream/api")
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		span.End()
		a.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// Handler returns the HTTP handler serving the API
func (a *API) Handler() http.Handler {
	return a.router
}

// Addr returns the listen address
func (a *API) Addr() string {
	return fmt.Sprintf("%s:%d", a.host, a.port)
}

// Start serves the API until Stop is called
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// healthCheck handles GET /health
// @Summary      Health check
// @Description  Check if the API is running
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (a *API) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// getStatus handles GET /status
// @Summary      Get system status
// @Description  Get the health of every component and the progress of every source
// @Tags         system
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /status [get]
func (a *API) getStatus(c *gin.Context) {
	resp := StatusResponse{
		Status:  a.ctl.GetStatus(),
		Health:  a.ctl.GetHealthStatus(),
		Sources: a.ctl.SourceStatus(),
	}
	if errs := a.ctl.Errors(); len(errs) > 0 {
		resp.Errors = make(map[string]string, len(errs))
		for id, err := range errs {
			resp.Errors[id] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

// getSources handles GET /sources
// @Summary      List sources
// @Description  Get the cursor, state and last checkpoint of every source
// @Tags         sources
// @Produce      json
// @Success      200  {array}   model.SourceStatus
// @Router       /sources [get]
func (a *API) getSources(c *gin.Context) {
	sources := a.ctl.SourceStatus()
	if sources == nil {
		sources = []model.SourceStatus{}
	}
	c.JSON(http.StatusOK, sources)
}

// getSource handles GET /sources/:id
// @Summary      Get source
// @Description  Get the progress of one source
// @Tags         sources
// @Produce      json
// @Param        id   path      string  true  "Source id"
// @Success      200  {object}  model.SourceStatus
// @Failure      404  {object}  ErrorResponse
// @Router       /sources/{id} [get]
func (a *API) getSource(c *gin.Context) {
	source, ok := a.ctl.Source(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "source not found"})
		return
	}
	c.JSON(http.StatusOK, source)
}

// checkpointSource handles POST /sources/:id/checkpoint
// @Summary      Checkpoint source
// @Description  Persist the cursor of one source immediately
// @Tags         sources
// @Produce      json
// @Param        id   path      string  true  "Source id"
// @Success      200  {object}  CheckpointResponse
// @Failure      404  {object}  ErrorResponse
// @Failure      500  {object}  ErrorResponse
// @Router       /sources/{id}/checkpoint [post]
func (a *API) checkpointSource(c *gin.Context) {
	snap, err := a.ctl.CheckpointNow(c.Request.Context(), c.Param("id"))
	if errors.Is(err, checkpoint.ErrUnknownSource) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		a.logger.Error("checkpoint failed", "source", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, CheckpointResponse{
		CheckpointID: snap.ID,
		SourceID:     snap.SourceID,
		Cursor:       snap.Cursor,
		TakenAt:      snap.TakenAt,
	})
}

// getConfig handles GET /config
// @Summary      Get configuration
// @Description  Get the effective configuration with secrets masked
// @Tags         config
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /config [get]
func (a *API) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, a.ctl.ConfigSnapshot())
}
