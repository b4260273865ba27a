package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

// ErrNoElement is returned when a selector matches nothing.
var ErrNoElement = errors.New("no element matches selector")

// Page is one browser tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, stop := bound(ctx, p.ctx, timeout)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) act(ctx context.Context, actions ...chromedp.Action) error {
	return p.run(ctx, p.cfg.ActionTimeout, actions...)
}

func (p *Page) eval(ctx context.Context, expr string, res any) error {
	return p.act(ctx, chromedp.Evaluate(expr, res))
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, p.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location returns the current URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.act(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Visible reports whether the first match is rendered and not hidden.
func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	var ok bool
	if err := p.eval(ctx, visibleScript(selector), &ok); err != nil {
		return false, fmt.Errorf("check %s visible: %w", selector, err)
	}
	return ok, nil
}

// Count returns the number of matches without waiting.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := p.eval(ctx, countScript(selector), &n); err != nil {
		return 0, fmt.Errorf("count %s: %w", selector, err)
	}
	return n, nil
}

// Text returns the rendered text of the first match, or "" when absent.
func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := p.eval(ctx, textScript(selector), &text); err != nil {
		return "", fmt.Errorf("read %s text: %w", selector, err)
	}
	return text, nil
}

// Click waits for the first match to be visible and clicks it natively.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.act(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// ClickScript calls click() on the first match from page script.
func (p *Page) ClickScript(ctx context.Context, selector string) error {
	return p.scriptOnElement(ctx, "click", clickScript(selector), selector)
}

// SubmitForm submits the form enclosing the first match.
func (p *Page) SubmitForm(ctx context.Context, selector string) error {
	return p.scriptOnElement(ctx, "submit", submitScript(selector), selector)
}

// Remove deletes every match and restores page scrolling.
func (p *Page) Remove(ctx context.Context, selector string) error {
	var n int
	if err := p.eval(ctx, removeScript(selector), &n); err != nil {
		return fmt.Errorf("remove %s: %w", selector, err)
	}
	p.logger.Debug("elements removed", zap.String("selector", selector), zap.Int("count", n))
	return nil
}

// Fill clears the first matching input and types value.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	err := p.act(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// SetText replaces the text of an editable element and fires input events.
func (p *Page) SetText(ctx context.Context, selector, text string) error {
	return p.scriptOnElement(ctx, "set text", setTextScript(selector, text), selector)
}

// SetValue sets a form control's value and fires input and change events.
func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	return p.scriptOnElement(ctx, "set value", setValueScript(selector, value), selector)
}

// PressEnter sends an Enter key press to the first match.
func (p *Page) PressEnter(ctx context.Context, selector string) error {
	if err := p.act(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("press enter on %s: %w", selector, err)
	}
	return nil
}

// SetFiles attaches local files to a file input.
func (p *Page) SetFiles(ctx context.Context, selector string, paths []string) error {
	if err := p.act(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("set files on %s: %w", selector, err)
	}
	return nil
}

// Screenshot captures the first match, or the viewport when selector is
// empty.
func (p *Page) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	action := chromedp.CaptureScreenshot(&buf)
	if selector != "" {
		action = chromedp.Screenshot(selector, &buf, chromedp.ByQuery, chromedp.NodeVisible)
	}
	if err := p.act(ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot %q: %w", selector, err)
	}
	return buf, nil
}

// RestoreSession loads cookies into the browser and queues localStorage
// entries to be written when each origin loads.
func (p *Page) RestoreSession(ctx context.Context, state publish.SessionState) error {
	actions := []chromedp.Action{}
	if len(state.Cookies) > 0 {
		actions = append(actions, network.SetCookies(toCookieParams(state.Cookies)))
	}
	for _, origin := range state.Origins {
		if len(origin.LocalStorage) == 0 {
			continue
		}
		script := localStorageScript(origin)
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
	}
	if err := p.act(ctx, actions...); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	p.logger.Info("session restored", zap.Int("cookies", len(state.Cookies)), zap.Int("origins", len(state.Origins)))
	return nil
}

// SaveSession snapshots every browser cookie and the current origin's
// localStorage.
func (p *Page) SaveSession(ctx context.Context) (publish.SessionState, error) {
	var (
		cookies []*network.Cookie
		entries []publish.StorageEntry
		origin  string
	)
	err := p.act(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = storage.GetCookies().Do(ctx)
			return err
		}),
		chromedp.Evaluate(`location.origin`, &origin),
		chromedp.Evaluate(readLocalStorageScript, &entries),
	)
	if err != nil {
		return publish.SessionState{}, fmt.Errorf("save session: %w", err)
	}
	state := publish.SessionState{Cookies: fromNetworkCookies(cookies)}
	if len(entries) > 0 && origin != "" && origin != "null" {
		state.Origins = []publish.OriginStorage{{Origin: origin, LocalStorage: entries}}
	}
	return state, nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func (p *Page) scriptOnElement(ctx context.Context, what, script, selector string) error {
	var found bool
	if err := p.eval(ctx, script, &found); err != nil {
		return fmt.Errorf("%s %s: %w", what, selector, err)
	}
	if !found {
		return fmt.Errorf("%s %s: %w", what, selector, ErrNoElement)
	}
	return nil
}
