package http

import (
	"context"
	"net/http"

	"github.com/dkeye/tablelink/internal/adapters/signal"
	"github.com/dkeye/tablelink/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

const clientTokenKey = "client_token"

// ClientTokenMiddleware keeps a per-browser token in the cookie session. The
// token is exposed to handlers only once the browser has sent it back, so a
// client that drops cookies is keyed by its address instead.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		if token, _ := s.Get(clientTokenKey).(string); token != "" {
			c.Set(clientTokenKey, token)
			c.Next()
			return
		}
		s.Set(clientTokenKey, genClientToken())
		s.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
		if err := s.Save(); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("TablelinkSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api.GET("/peers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"count": ctrl.Dir.Len()})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
