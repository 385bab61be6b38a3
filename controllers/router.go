package controllers

import (
	"net/http"
	"time"

	"climbwall/frontend"
	"climbwall/metrics"
	"climbwall/segment"
	"climbwall/utils"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	uuid "github.com/twinj/uuid"
)

const Version = "v0.1.0"

// CorsMiddleware Use middleware for CORS (Cross-Origin Resource Sharing)
// TODO: This is too broad, restrict the origins once the tool is served outside of localhost.
// CORS for * origins, allowing:
// - PUT, GET, POST and PATCH methods
// - Origin header
// - Credentials share
// - Preflight requests cached for 12 hours
func CorsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"PUT", "GET", "POST", "PATCH", "DELETE"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"X-Request-Id, Content-Type, Origin, Accept, Accept-Encoding"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// RequestIDMiddleware Generate a UUID and attach it to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		_uuid := uuid.NewV4()
		c.Writer.Header().Set("X-Request-Id", _uuid.String())
		c.Next()
	}
}

// VersionHandler Version tag to test against
func VersionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": Version,
	})
}

// NewSegmentRouter All routes of the interactive segmentation tool
func NewSegmentRouter(cache *segment.SessionCache, config *utils.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(CorsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(metrics.Middleware())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.SetHTMLTemplate(frontend.Templates())

	r.GET("/version", VersionHandler)
	r.GET("/metrics", metrics.Handler())
	r.GET("/", Home(config))

	r.POST("/upload_image", UploadImage(cache))
	r.POST("/button_click", ButtonClick(cache))
	r.POST("/box_receive", BoxReceive(cache))
	r.POST("/point_receive", PointReceive(cache))
	r.GET("/session", SessionState(cache))
	r.POST("/save_masks", SaveMasks(cache, config))

	// REST API on the saved annotations
	// Currently no authentication is used
	api := r.Group("/api")
	v1 := api.Group("/v1")
	{
		v1.GET("/images", FindImages)
		v1.POST("/images", CreateImage)
		v1.GET("/images/:id", FindImage)
		v1.PATCH("/images/:id", UpdateImage)
		v1.DELETE("/images/:id", DeleteImage)
	}
	return r
}
