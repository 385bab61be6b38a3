package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"climbwall/browseragent"
	"climbwall/frontend"
	"climbwall/metrics"
	"climbwall/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var AgentModels = []string{"deepseek-r1", "gpt-4", "gpt-4o-mini"}

type CancelTaskInput struct {
	Task string `json:"task" binding:"required"`
}

// AgentHome Render the task page
func AgentHome(config *utils.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "agent.tmpl", gin.H{
			"title":    "Browser Use GUI",
			"base_url": config.Agent.BaseURL,
			"models":   AgentModels,
		})
	}
}

func writeAgentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, browseragent.ErrMissingAPIKey), errors.Is(err, browseragent.ErrMissingTask):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, browseragent.ErrTaskRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, browseragent.ErrNoActiveTask):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, browseragent.ErrLLM):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		log.Warn(fmt.Sprintf("Agent error: %s", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// RunTask Run a browser task and answer once it finished, closing the request cancels the task
func RunTask(runner *browseragent.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input browseragent.TaskRequest
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := runner.RunTask(c.Request.Context(), input)
		if err != nil {
			writeAgentError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": result})
	}
}

// StopTask Cancel a running task
func StopTask(runner *browseragent.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CancelTaskInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": runner.Cancel(input.Task)})
	}
}

// PreviewTask Server sent events with the log and a screenshot of the running task
func PreviewTask(runner *browseragent.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		task := c.Query("task")
		if _, ok := runner.Registry().Get(task); !ok {
			writeAgentError(c, browseragent.ErrNoActiveTask)
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		err := runner.Preview(c.Request.Context(), task, func(frame browseragent.PreviewFrame) error {
			c.SSEvent("preview", frame)
			c.Writer.Flush()
			return nil
		})
		if err != nil && !errors.Is(err, c.Request.Context().Err()) && !errors.Is(err, browseragent.ErrNoActiveTask) {
			log.Debug(fmt.Sprintf("Preview of %q ended: %s", task, err.Error()))
		}
		c.SSEvent("end", gin.H{"task": task})
		c.Writer.Flush()
	}
}

// TaskGif Animated recording of a finished task
func TaskGif(runner *browseragent.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := runner.GifPath(c.Query("task"))
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found!"})
			return
		}
		c.File(path)
	}
}

// ActiveTasks Names of the running tasks
func ActiveTasks(runner *browseragent.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": runner.Registry().Active()})
	}
}

// NewAgentRouter All routes of the browser agent UI
// Responses are not compressed, the preview stream must reach the client as it is written
func NewAgentRouter(runner *browseragent.Runner, config *utils.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(CorsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(metrics.Middleware())
	r.SetHTMLTemplate(frontend.Templates())

	r.GET("/", AgentHome(config))
	r.GET("/version", VersionHandler)
	r.GET("/metrics", metrics.Handler())

	tasks := r.Group("/api/tasks")
	{
		tasks.GET("", ActiveTasks(runner))
		tasks.POST("", RunTask(runner))
		tasks.POST("/stop", StopTask(runner))
		tasks.GET("/preview", PreviewTask(runner))
		tasks.GET("/gif", TaskGif(runner))
	}
	return r
}

// AgentRunnerConfig Runner settings from the configuration
func AgentRunnerConfig(config *utils.Config) browseragent.RunnerConfig {
	return browseragent.RunnerConfig{
		LogFile:         config.Agent.LogFile,
		GifDir:          config.Agent.GifDir,
		LogLines:        config.Agent.LogLines,
		PreviewInterval: config.Agent.PreviewInterval,
	}
}

// AgentBrowserConfig Chrome settings from the configuration
func AgentBrowserConfig(config *utils.Config) browseragent.BrowserConfig {
	return browseragent.BrowserConfig{
		Headless:        config.Agent.Headless,
		DisableSecurity: true,
		ActionTimeout:   30 * time.Second,
	}
}
