package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"vehicle-tracker/internal/config"
)

// NewRouter builds the gin engine with the shared middleware stack.
func NewRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestID())

	corsCfg := cors.DefaultConfig()
	if len(cfg.Server.AllowedOrigins) == 1 && cfg.Server.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.Server.AllowedOrigins
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	r.Use(cors.New(corsCfg))

	return r
}
