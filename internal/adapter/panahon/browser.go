package panahon

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

const (
	selNotificationButton = "button.notification-button"
	selAlertType          = "#alertTypeSelect"
	selShowAlert          = "#showSelectedAlertBtn"
	selSearchInput        = "input[placeholder*='Search'], input[type='search']"
	selPopupContent       = ".ol-popup-content"

	pageLoadTimeout = 15 * time.Second
	panelTimeout    = 10 * time.Second
	popupTimeout    = 15 * time.Second
)

// ChromeBrowser drives a headless Chrome through chromedp.
type ChromeBrowser struct {
	url string
}

// NewChromeBrowser creates a browser that loads the advisory page at url.
func NewChromeBrowser(url string) *ChromeBrowser {
	return &ChromeBrowser{url: url}
}

// Open launches a fresh headless browser and loads the advisory page.
func (b *ChromeBrowser) Open(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &chromeSession{
		ctx: browserCtx,
		close: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}

	// The first Run starts the browser and must use the browser context itself;
	// a derived timeout context would kill the browser when it expires.
	if err := chromedp.Run(browserCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	loadCtx, cancel := context.WithTimeout(browserCtx, pageLoadTimeout)
	defer cancel()
	if err := chromedp.Run(loadCtx,
		chromedp.Navigate(b.url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		s.Close()
		return nil, fmt.Errorf("navigate %s: %w", b.url, err)
	}
	return s, nil
}

type chromeSession struct {
	ctx   context.Context
	close func()
}

// run executes actions in the browser tab, bounded by both the caller's
// context and timeout.
func (s *chromeSession) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) OpenPanel(ctx context.Context) error {
	return s.run(ctx, panelTimeout,
		chromedp.Click(selNotificationButton, chromedp.ByQuery),
		chromedp.WaitVisible(selShowAlert, chromedp.ByQuery),
	)
}

func (s *chromeSession) Search(ctx context.Context, category int, region string) error {
	selectScript := fmt.Sprintf(`(() => {
		const sel = document.querySelector(%q);
		if (!sel || sel.options.length <= %d) { return false; }
		sel.selectedIndex = %d;
		sel.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, selAlertType, category, category)

	var selected bool
	if err := s.run(ctx, popupTimeout,
		chromedp.Evaluate(selectScript, &selected),
	); err != nil {
		return fmt.Errorf("select alert type %d: %w", category, err)
	}
	if !selected {
		return fmt.Errorf("alert type %d not offered", category)
	}

	return s.run(ctx, popupTimeout,
		chromedp.Click(selShowAlert, chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
		chromedp.Clear(selSearchInput, chromedp.ByQuery),
		chromedp.SendKeys(selSearchInput, region+kb.Enter, chromedp.ByQuery),
		chromedp.Sleep(3*time.Second),
	)
}

func (s *chromeSession) PopupText(ctx context.Context) (string, error) {
	var text string
	err := s.run(ctx, popupTimeout,
		chromedp.WaitVisible(selPopupContent, chromedp.ByQuery),
		chromedp.Text(selPopupContent, &text, chromedp.ByQuery),
	)
	return text, err
}

func (s *chromeSession) Close() {
	s.close()
}
