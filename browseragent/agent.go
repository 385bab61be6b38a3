package browseragent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	ErrStopped       = errors.New("agent stopped")
	ErrInvalidAction = errors.New("invalid action")
)

// Agent A running browser task
type Agent interface {
	Run(ctx context.Context) (*History, error)
	Stop()
	Screenshot(ctx context.Context) ([]byte, error)
}

// Action The next step decided by the model
type Action struct {
	Name     string  `json:"name"`
	URL      string  `json:"url,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Text     string  `json:"text,omitempty"`
	Amount   int     `json:"amount,omitempty"`
	Seconds  float64 `json:"seconds,omitempty"`
	Success  bool    `json:"success,omitempty"`
}

// Decision The structured reply the model is asked for at each step
type Decision struct {
	Evaluation string `json:"evaluation_previous_goal"`
	Memory     string `json:"memory"`
	NextGoal   string `json:"next_goal"`
	Action     Action `json:"action"`
}

// ActionResult Outcome of one step
type ActionResult struct {
	Step      int       `json:"step"`
	URL       string    `json:"url"`
	Decision  Decision  `json:"decision"`
	Extracted string    `json:"extracted_content,omitempty"`
	Error     string    `json:"error,omitempty"`
	IsDone    bool      `json:"is_done"`
	Success   bool      `json:"success"`
	Time      time.Time `json:"time"`
}

// History All steps of a run
type History struct {
	Task  string         `json:"task"`
	Steps []ActionResult `json:"steps"`
}

// IsDone Whether the model finished the task
func (h *History) IsDone() bool {
	if h == nil || len(h.Steps) == 0 {
		return false
	}
	return h.Steps[len(h.Steps)-1].IsDone
}

// FinalResult The text reported by the done action, empty when unfinished
func (h *History) FinalResult() string {
	if !h.IsDone() {
		return ""
	}
	return h.Steps[len(h.Steps)-1].Extracted
}

// Errors Errors of all steps, in order
func (h *History) Errors() []string {
	var errs []string
	if h == nil {
		return errs
	}
	for _, step := range h.Steps {
		if step.Error != "" {
			errs = append(errs, step.Error)
		}
	}
	return errs
}

// Config Behaviour of a single agent
type Config struct {
	Task         string
	MaxSteps     int
	StepInterval time.Duration
	// MaxMessages bounds the conversation sent to the model, the system prompt and task excluded
	MaxMessages int
	MaxFailures int
}

// BrowserAgent Agent that asks a LLM what to do next and executes it in a browser
type BrowserAgent struct {
	config  Config
	llm     LLM
	browser Browser
	logger  *log.Logger
	limiter *rate.Limiter
	frames  *GifRecorder

	stopped atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
}

// NewBrowserAgent Create an agent, frames may be nil when no GIF is recorded
func NewBrowserAgent(config Config, llm LLM, browser Browser, logger *log.Logger, frames *GifRecorder) *BrowserAgent {
	if config.MaxSteps <= 0 {
		config.MaxSteps = 100
	}
	if config.MaxMessages <= 0 {
		config.MaxMessages = 20
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	limit := rate.Inf
	if config.StepInterval > 0 {
		limit = rate.Every(config.StepInterval)
	}
	return &BrowserAgent{
		config:  config,
		llm:     llm,
		browser: browser,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		frames:  frames,
	}
}

const systemPrompt = `You are a browser automation agent. You receive the current page state and decide the single next action.
Reply with one JSON object and nothing else:
{"evaluation_previous_goal": "...", "memory": "...", "next_goal": "...", "action": {"name": "...", ...}}
Available actions:
- {"name": "navigate", "url": "https://..."}
- {"name": "click", "selector": "<css selector of an element>"}
- {"name": "type", "selector": "<css selector of an input>", "text": "..."}
- {"name": "scroll", "amount": <pixels, negative scrolls up>}
- {"name": "wait", "seconds": <seconds>}
- {"name": "extract", "text": "<what to look for>"}
- {"name": "done", "text": "<final answer>", "success": true}
Use the selectors listed in the page state. Call done as soon as the task is complete.`

// Run Step until the model calls done, the step budget is exhausted or the agent is stopped
func (a *BrowserAgent) Run(ctx context.Context) (*History, error) {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	defer cancel()

	history := &History{Task: a.config.Task}
	messages := []ChatMessage{}
	failures := 0
	a.logger.Info(fmt.Sprintf("🚀 Starting task: %s", a.config.Task))

	for step := 1; step <= a.config.MaxSteps; step++ {
		if a.stopped.Load() {
			return history, ErrStopped
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return history, a.interrupted(err)
		}

		result, err := a.step(ctx, step, &messages)
		if err != nil {
			return history, a.interrupted(err)
		}
		history.Steps = append(history.Steps, result)
		if result.Error != "" {
			failures++
			if failures >= a.config.MaxFailures {
				a.logger.Error(fmt.Sprintf("❌ Stopping due to %d consecutive failures", failures))
				return history, nil
			}
		} else {
			failures = 0
		}
		if result.IsDone {
			a.logger.Info(fmt.Sprintf("📄 Result: %s", result.Extracted))
			if result.Success {
				a.logger.Info("✅ Task completed successfully")
			} else {
				a.logger.Info("❌ Task completed without success")
			}
			return history, nil
		}
	}
	a.logger.Info(fmt.Sprintf("❌ Failed to complete task in maximum steps (%d)", a.config.MaxSteps))
	return history, nil
}

// interrupted Translate the error of a cancelled run into ErrStopped
func (a *BrowserAgent) interrupted(err error) error {
	if a.stopped.Load() {
		return ErrStopped
	}
	return err
}

func (a *BrowserAgent) step(ctx context.Context, step int, messages *[]ChatMessage) (ActionResult, error) {
	a.logger.Info(fmt.Sprintf("📍 Step %d", step))
	result := ActionResult{Step: step, Time: time.Now()}

	state, err := a.browser.State(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		a.logger.Warn(fmt.Sprintf("Could not read page state: %s", err.Error()))
	}
	result.URL = state.URL
	if a.frames != nil {
		if shot, err := a.browser.Screenshot(ctx); err == nil {
			if err := a.frames.AddPNG(shot); err != nil {
				a.logger.Debug(fmt.Sprintf("Skipping GIF frame: %s", err.Error()))
			}
		}
	}

	*messages = append(*messages, ChatMessage{Role: "user", Content: describeState(step, state)})
	conversation := append([]ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Task: " + a.config.Task},
	}, lastN(*messages, a.config.MaxMessages)...)

	reply, err := a.llm.Chat(ctx, conversation)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Error = err.Error()
		a.logger.Error(fmt.Sprintf("❌ %s", result.Error))
		return result, nil
	}
	*messages = append(*messages, ChatMessage{Role: "assistant", Content: reply})

	decision, err := ParseDecision(reply)
	if err != nil {
		result.Error = err.Error()
		a.logger.Error(fmt.Sprintf("❌ %s", result.Error))
		*messages = append(*messages, ChatMessage{Role: "user", Content: "Your reply could not be parsed: " + result.Error})
		return result, nil
	}
	result.Decision = decision
	a.logger.Info(fmt.Sprintf("👍 Eval: %s", decision.Evaluation))
	a.logger.Info(fmt.Sprintf("🧠 Memory: %s", decision.Memory))
	a.logger.Info(fmt.Sprintf("🎯 Next goal: %s", decision.NextGoal))
	a.logger.Info(fmt.Sprintf("🛠️  Action: %s", describeAction(decision.Action)))

	extracted, err := a.execute(ctx, decision.Action, state)
	if err != nil {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Error = err.Error()
		a.logger.Error(fmt.Sprintf("❌ Action failed: %s", result.Error))
		*messages = append(*messages, ChatMessage{Role: "user", Content: "Action failed: " + result.Error})
		return result, nil
	}
	result.Extracted = extracted
	if extracted != "" && decision.Action.Name != "done" {
		*messages = append(*messages, ChatMessage{Role: "user", Content: "Extracted: " + extracted})
	}
	if decision.Action.Name == "done" {
		result.IsDone = true
		result.Success = decision.Action.Success
	}
	return result, nil
}

func (a *BrowserAgent) execute(ctx context.Context, action Action, state PageState) (string, error) {
	switch action.Name {
	case "navigate":
		if action.URL == "" {
			return "", fmt.Errorf("%w: navigate needs an url", ErrInvalidAction)
		}
		return "", a.browser.Navigate(ctx, action.URL)
	case "click":
		return "", a.browser.Click(ctx, action.Selector)
	case "type":
		return "", a.browser.Type(ctx, action.Selector, action.Text)
	case "scroll":
		amount := action.Amount
		if amount == 0 {
			amount = 600
		}
		return "", a.browser.Scroll(ctx, amount)
	case "wait":
		seconds := action.Seconds
		if seconds <= 0 {
			seconds = 1
		}
		timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", nil
		}
	case "extract":
		return state.Text, nil
	case "done":
		return action.Text, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, action.Name)
	}
}

// Stop Cancel the run and close the browser, safe to call more than once
func (a *BrowserAgent) Stop() {
	if a.stopped.Swap(true) {
		return
	}
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if err := a.browser.Close(); err != nil {
		a.logger.Warn(fmt.Sprintf("Closing browser: %s", err.Error()))
	}
	a.logger.Info("🛑 Agent stopped")
}

// Screenshot Current viewport of the agent's browser
func (a *BrowserAgent) Screenshot(ctx context.Context) ([]byte, error) {
	if a.stopped.Load() {
		return nil, ErrStopped
	}
	return a.browser.Screenshot(ctx)
}

// Close Release the browser after a run that was not stopped
func (a *BrowserAgent) Close() error {
	if a.stopped.Load() {
		return nil
	}
	return a.browser.Close()
}

var (
	thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFence  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// ParseDecision Extract the JSON decision from a model reply, ignoring reasoning blocks and code fences
func ParseDecision(reply string) (Decision, error) {
	var decision Decision
	text := thinkBlock.ReplaceAllString(reply, "")
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return decision, fmt.Errorf("%w: no JSON object in reply", ErrInvalidAction)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &decision); err != nil {
		return decision, fmt.Errorf("%w: %s", ErrInvalidAction, err.Error())
	}
	if decision.Action.Name == "" {
		return decision, fmt.Errorf("%w: missing action name", ErrInvalidAction)
	}
	return decision, nil
}

const maxVisibleText = 2000

// truncateRunes Cut s to at most n bytes without splitting a rune
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func describeState(step int, state PageState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Step %d\nCurrent url: %s\nTitle: %s\nInteractive elements:\n", step, state.URL, state.Title)
	for _, el := range state.Elements {
		fmt.Fprintf(&b, "- %s <%s", el.Selector, el.Tag)
		if el.Type != "" {
			fmt.Fprintf(&b, " type=%s", el.Type)
		}
		fmt.Fprintf(&b, "> %s\n", el.Text)
	}
	fmt.Fprintf(&b, "Visible text:\n%s", truncateRunes(state.Text, maxVisibleText))
	return b.String()
}

func describeAction(action Action) string {
	data, err := json.Marshal(action)
	if err != nil {
		return action.Name
	}
	return string(data)
}

func lastN[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
