package browseragent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	log "github.com/sirupsen/logrus"
)

// PageElement An interactive element of the page, addressable by Selector
type PageElement struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Type     string `json:"type"`
}

// PageState What the agent observes of the current page
type PageState struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Text     string        `json:"text"`
	Elements []PageElement `json:"elements"`
}

// Browser The browser operations the agent can perform
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector string, text string) error
	Scroll(ctx context.Context, deltaY int) error
	State(ctx context.Context) (PageState, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// BrowserConfig How chrome is started
type BrowserConfig struct {
	Headless        bool
	DisableSecurity bool
	Width           int
	Height          int
	ActionTimeout   time.Duration
}

// ChromeBrowser Browser implemented with chromedp
type ChromeBrowser struct {
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
	config      BrowserConfig

	mu     sync.Mutex
	closed bool
}

// NewChromeBrowser Start a new chrome instance
func NewChromeBrowser(config BrowserConfig) (*ChromeBrowser, error) {
	if config.Width == 0 || config.Height == 0 {
		config.Width, config.Height = 1280, 1100
	}
	if config.ActionTimeout == 0 {
		config.ActionTimeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(config.Width, config.Height),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if config.DisableSecurity {
		opts = append(opts,
			chromedp.Flag("disable-web-security", true),
			chromedp.Flag("ignore-certificate-errors", true),
			chromedp.NoSandbox,
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}))
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	log.Info(fmt.Sprintf("Chrome started, headless=%v", config.Headless))

	return &ChromeBrowser{
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
	}, nil
}

// run Execute the actions on the browser tab, bounded by ctx and the action timeout
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStopped
	}
	tabCtx, cancel := context.WithTimeout(b.ctx, b.config.ActionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tabCtx, actions...)
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *ChromeBrowser) Click(ctx context.Context, selector string) error {
	return b.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (b *ChromeBrowser) Type(ctx context.Context, selector string, text string) error {
	return b.run(ctx,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (b *ChromeBrowser) Scroll(ctx context.Context, deltaY int) error {
	var ignored any
	return b.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", deltaY), &ignored))
}

// elementsScript tags the interactive elements so they can be addressed with a stable selector
const elementsScript = `Array.from(document.querySelectorAll('a, button, input, textarea, select, [role="button"]'))
	.filter(el => el.offsetParent !== null)
	.slice(0, 60)
	.map((el, i) => {
		el.setAttribute('data-agent-id', String(i));
		return {
			selector: '[data-agent-id="' + i + '"]',
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || el.getAttribute('aria-label') || el.getAttribute('placeholder') || '').trim().slice(0, 80),
			type: el.getAttribute('type') || ''
		};
	})`

const textScript = `document.body ? document.body.innerText.slice(0, 4000) : ''`

func (b *ChromeBrowser) State(ctx context.Context) (PageState, error) {
	var state PageState
	err := b.run(ctx,
		chromedp.Location(&state.URL),
		chromedp.Title(&state.Title),
		chromedp.Evaluate(textScript, &state.Text),
		chromedp.Evaluate(elementsScript, &state.Elements),
	)
	return state, err
}

// Screenshot PNG screenshot of the visible viewport
func (b *ChromeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := b.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close Close the tab and the browser, running actions fail with ErrStopped afterwards
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.allocCancel()
	log.Info("Chrome closed")
	return nil
}
