package browseragent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"climbwall/metrics"

	log "github.com/sirupsen/logrus"
)

const (
	CancelledMessage = "Task cancelled by user"
	StoppedMessage   = "stop"
	NoTaskMessage    = "No active task to cancel"
)

var (
	ErrMissingAPIKey = errors.New("Please provide an API key")
	ErrMissingTask   = errors.New("Please provide a task")
)

// TaskRequest A task submitted by a user
type TaskRequest struct {
	Task     string `json:"task" binding:"required"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	MaxSteps int    `json:"max_steps"`
}

// TaskResult Outcome of RunTask
type TaskResult struct {
	Task      string   `json:"task"`
	Final     string   `json:"final_result"`
	Errors    []string `json:"errors"`
	GifPath   string   `json:"gif_path,omitempty"`
	Cancelled bool     `json:"cancelled"`
	Message   string   `json:"message,omitempty"`
	History   *History `json:"history,omitempty"`
}

// PreviewFrame One update of a running task
type PreviewFrame struct {
	Task       string `json:"task"`
	Log        string `json:"log"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AgentFactory Build the agent of a request, logging to logger and recording into frames
type AgentFactory func(req TaskRequest, logger *log.Logger, frames *GifRecorder) (Agent, error)

// RunnerConfig Where a runner writes its log and recordings
type RunnerConfig struct {
	LogFile         string
	GifDir          string
	LogLines        int
	PreviewInterval time.Duration
}

// Runner Runs browser tasks, at most one agent per task
type Runner struct {
	config   RunnerConfig
	registry *Registry
	factory  AgentFactory
	logger   *log.Logger
	logFile  *os.File
}

// NewRunner Open the agent log file and create a runner
func NewRunner(config RunnerConfig, factory AgentFactory) (*Runner, error) {
	if config.LogLines <= 0 {
		config.LogLines = 30
	}
	if config.PreviewInterval <= 0 {
		config.PreviewInterval = 3 * time.Second
	}
	file, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open agent log %s: %w", config.LogFile, err)
	}

	logger := log.New()
	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.SetFormatter(&log.TextFormatter{DisableColors: true, FullTimestamp: true})
	logger.SetLevel(log.GetLevel())

	return &Runner{
		config:   config,
		registry: NewRegistry(),
		factory:  factory,
		logger:   logger,
		logFile:  file,
	}, nil
}

func (r *Runner) Registry() *Registry {
	return r.registry
}

// Close Close the log file
func (r *Runner) Close() error {
	return r.logFile.Close()
}

// RunTask Run the task to completion, cancellation through Cancel or ctx is not an error
func (r *Runner) RunTask(ctx context.Context, req TaskRequest) (*TaskResult, error) {
	req.Task = strings.TrimSpace(req.Task)
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if req.Task == "" {
		return nil, ErrMissingTask
	}
	// the slot is taken before the log is truncated or a browser is started
	slot := &startingAgent{}
	if err := r.registry.Register(req.Task, slot); err != nil {
		return nil, err
	}

	if err := r.logFile.Truncate(0); err != nil {
		log.Warn(fmt.Sprintf("Cannot truncate %s: %s", r.config.LogFile, err.Error()))
	}

	frames := NewGifRecorder(800, 100)
	agent, err := r.factory(req, r.logger, frames)
	if err != nil {
		r.registry.Unregister(req.Task, slot)
		metrics.AgentTasksTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	if closer, ok := agent.(io.Closer); ok {
		defer closer.Close()
	}
	if !r.registry.Replace(req.Task, slot, agent) {
		// cancelled while starting
		agent.Stop()
		metrics.AgentTasksTotal.WithLabelValues("cancelled").Inc()
		log.WithFields(log.Fields{"task": req.Task}).Info(CancelledMessage)
		return &TaskResult{Task: req.Task, Cancelled: true, Message: CancelledMessage}, nil
	}
	defer r.registry.Unregister(req.Task, agent)

	log.WithFields(log.Fields{"task": req.Task, "model": req.Model}).Info("Agent task started")
	history, runErr := agent.Run(ctx)

	result := &TaskResult{Task: req.Task, History: history}
	gifPath := filepath.Join(r.config.GifDir, GifName(req.Task))
	if saved, err := frames.Save(gifPath); err != nil {
		log.Warn(fmt.Sprintf("Cannot write %s: %s", gifPath, err.Error()))
	} else if saved {
		result.GifPath = gifPath
	}

	if errors.Is(runErr, ErrStopped) || errors.Is(runErr, context.Canceled) {
		agent.Stop()
		metrics.AgentTasksTotal.WithLabelValues("cancelled").Inc()
		log.WithFields(log.Fields{"task": req.Task}).Info(CancelledMessage)
		result.Cancelled = true
		result.Message = CancelledMessage
		return result, nil
	}
	if runErr != nil {
		metrics.AgentTasksTotal.WithLabelValues("failed").Inc()
		return result, runErr
	}

	result.Final = history.FinalResult()
	result.Errors = history.Errors()
	if history.IsDone() {
		metrics.AgentTasksTotal.WithLabelValues("done").Inc()
	} else {
		metrics.AgentTasksTotal.WithLabelValues("unfinished").Inc()
	}
	log.WithFields(log.Fields{"task": req.Task, "steps": len(history.Steps)}).Info("Agent task finished")
	return result, nil
}

// Cancel Stop the agent of the task
func (r *Runner) Cancel(task string) string {
	if err := r.registry.Stop(strings.TrimSpace(task)); err != nil {
		return NoTaskMessage
	}
	log.WithFields(log.Fields{"task": task}).Info("Agent task stopped")
	return StoppedMessage
}

// Preview Call fn with the recent log and a screenshot every interval while the task is running
func (r *Runner) Preview(ctx context.Context, task string, fn func(PreviewFrame) error) error {
	task = strings.TrimSpace(task)
	if _, ok := r.registry.Get(task); !ok {
		return ErrNoActiveTask
	}

	lt, err := NewLogTail(r.config.LogFile, r.config.LogLines)
	if err != nil {
		return err
	}
	defer lt.Stop()

	ticker := time.NewTicker(r.config.PreviewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		agent, ok := r.registry.Get(task)
		if !ok {
			return nil
		}
		frame := PreviewFrame{Task: task, Log: lt.Markdown()}
		shot, err := agent.Screenshot(ctx)
		if err != nil {
			frame.Error = err.Error()
		} else {
			frame.Screenshot = base64.StdEncoding.EncodeToString(shot)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// GifPath Location of the recording of task
func (r *Runner) GifPath(task string) string {
	return filepath.Join(r.config.GifDir, GifName(strings.TrimSpace(task)))
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9 ._-]+`)

// GifName File name of the recording of a task
func GifName(task string) string {
	name := strings.TrimSpace(unsafeFileChars.ReplaceAllString(task, "_"))
	if len(name) > 100 {
		name = name[:100]
	}
	if name == "" || strings.Trim(name, ".") == "" {
		name = "task"
	}
	return name + ".gif"
}

// ChromeAgentFactory Agents backed by a new chrome instance and an OpenAI compatible model
func ChromeAgentFactory(browser BrowserConfig, config Config, defaultBaseURL string, defaultModel string) AgentFactory {
	return func(req TaskRequest, logger *log.Logger, frames *GifRecorder) (Agent, error) {
		baseURL, model := req.BaseURL, req.Model
		if baseURL == "" {
			baseURL = defaultBaseURL
		}
		if model == "" {
			model = defaultModel
		}
		agentConfig := config
		agentConfig.Task = req.Task
		if req.MaxSteps > 0 {
			agentConfig.MaxSteps = req.MaxSteps
		}

		b, err := NewChromeBrowser(browser)
		if err != nil {
			return nil, err
		}
		llm := NewOpenAIClient(baseURL, req.APIKey, model, 0)
		return NewBrowserAgent(agentConfig, llm, b, logger, frames), nil
	}
}
