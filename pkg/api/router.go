package api

import (
	"github.com/gin-gonic/gin"

	"github.com/whale-watch/pkg/archive"
	"github.com/whale-watch/pkg/cache"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/worker"
)

// Router wraps the Gin router with handlers
type Router struct {
	engine         *gin.Engine
	jobHandler     *JobHandler
	scanHandler    *ScanHandler
	addressHandler *AddressHandler
	statsHandler   *StatsHandler
}

// NewRouter creates a new Router with all handlers
func NewRouter(
	cfg *config.Config,
	chain *gateway.ChainClient,
	price *gateway.PriceClient,
	profiles *cache.ProfileCache,
	store jobs.Store,
	runner *worker.Runner,
	arch *archive.Store,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:         gin.New(),
		jobHandler:     NewJobHandler(cfg, profiles, store, runner),
		scanHandler:    NewScanHandler(cfg, chain, price, arch),
		addressHandler: NewAddressHandler(profiles),
		statsHandler:   NewStatsHandler(profiles, store, arch),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// setupMiddleware configures middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(Recovery())
	r.engine.Use(Logger())
	r.engine.Use(CORS())
}

// setupRoutes configures API routes
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/analyze", r.jobHandler.Submit)
		v1.GET("/jobs/:id", r.jobHandler.Get)

		scan := v1.Group("/scan")
		{
			scan.GET("/unconfirmed", r.scanHandler.Unconfirmed)
			scan.GET("/block", r.scanHandler.LatestBlock)
		}

		v1.GET("/address/:address", r.addressHandler.Get)
		v1.GET("/whales/recent", r.statsHandler.RecentWhales)
		v1.GET("/stats", r.statsHandler.Stats)
	}
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
