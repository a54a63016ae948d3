// internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	stabilizeTimeout         = 30 * time.Second
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	tagName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
)

// Session drives one page inside an isolated browser context. Handles are
// DOM node ids and stay valid until the document is replaced.
type Session struct {
	id      string
	ctx     context.Context
	cfg     config.BrowserConfig
	quality int
	logger  *zap.Logger
	release func()
}

var _ schemas.Driver = (*Session)(nil)

// ID returns the session id used in logs.
func (s *Session) ID() string { return s.id }

// runActions runs actions on the page, bounded by both the session and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url, waits for the body and then the configured quiet period.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Info("Navigating session.", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, navTimeout, navCtx.Err())
		}
		if ctx.Err() != nil || s.ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	stabilizeCtx, cancel := context.WithTimeout(ctx, stabilizeTimeout)
	defer cancel()
	tasks := chromedp.Tasks{chromedp.WaitReady("body", chromedp.ByQuery)}
	if s.cfg.PostLoadWait > 0 {
		tasks = append(tasks, chromedp.Sleep(s.cfg.PostLoadWait))
	}
	if err := s.runActions(stabilizeCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation canceled: %w", ctx.Err())
		}
		s.logger.Debug("Page did not settle after navigation.", zap.Error(err))
	}
	return nil
}

// QueryBySelector returns the matches of a CSS selector in document order. An
// empty result is not an error.
func (s *Session) QueryBySelector(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	var nodes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	handles := make([]schemas.ElementHandle, 0, len(nodes))
	for _, n := range nodes {
		handles = append(handles, schemas.ElementHandle(n.NodeID))
	}
	return handles, nil
}

// QueryCandidatesByTag fingerprints up to limit elements named tag.
func (s *Session) QueryCandidatesByTag(ctx context.Context, tag string, limit int) ([]schemas.Candidate, error) {
	if !tagName.MatchString(tag) {
		return nil, fmt.Errorf("invalid tag name %q", tag)
	}
	handles, err := s.QueryBySelector(ctx, tag)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(handles) > limit {
		handles = handles[:limit]
	}

	candidates := make([]schemas.Candidate, 0, len(handles))
	for _, h := range handles {
		fp, err := s.GetFingerprint(ctx, h)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Nodes can detach between the query and the call.
			s.logger.Debug("Skipping candidate without fingerprint.", zap.Int64("node_id", int64(h)), zap.Error(err))
			continue
		}
		candidates = append(candidates, schemas.Candidate{Handle: h, Fingerprint: fp})
	}
	return candidates, nil
}

func (s *Session) GetFingerprint(ctx context.Context, h schemas.ElementHandle) (schemas.ElementFingerprint, error) {
	var fp schemas.ElementFingerprint
	if err := s.callOn(ctx, h, fingerprintFn, &fp); err != nil {
		return schemas.ElementFingerprint{}, fmt.Errorf("failed to fingerprint node %d: %w", h, err)
	}
	if fp.Neighbors == nil {
		fp.Neighbors = []schemas.Neighbor{}
	}
	return fp, nil
}

func (s *Session) Click(ctx context.Context, h schemas.ElementHandle) error {
	if err := s.runActions(ctx, chromedp.Click([]cdp.NodeID{cdp.NodeID(h)}, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("click on node %d failed: %w", h, err)
	}
	return nil
}

// Type replaces the value of a form field (or appends to other focusable
// elements) with text.
func (s *Session) Type(ctx context.Context, h schemas.ElementHandle, text string) error {
	if err := s.callOn(ctx, h, clearFn, nil); err != nil {
		return fmt.Errorf("failed to clear node %d: %w", h, err)
	}
	if err := s.runActions(ctx, chromedp.SendKeys([]cdp.NodeID{cdp.NodeID(h)}, text, chromedp.ByNodeID)); err != nil {
		return fmt.Errorf("typing into node %d failed: %w", h, err)
	}
	return nil
}

func (s *Session) GetText(ctx context.Context, h schemas.ElementHandle) (string, error) {
	var text string
	if err := s.callOn(ctx, h, textFn, &text); err != nil {
		return "", fmt.Errorf("failed to read text of node %d: %w", h, err)
	}
	return text, nil
}

func (s *Session) IsVisible(ctx context.Context, h schemas.ElementHandle) (bool, error) {
	var visible bool
	if err := s.callOn(ctx, h, visibleFn, &visible); err != nil {
		return false, fmt.Errorf("failed to check visibility of node %d: %w", h, err)
	}
	return visible, nil
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Screenshot captures the viewport as PNG, or as JPEG when the configured
// quality is below 100.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
		if s.quality > 0 && s.quality < 100 {
			params = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(s.quality))
		}
		var err error
		buf, err = params.Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// callOn invokes fn with the node bound to this and decodes the by-value
// result into out (when non-nil).
func (s *Session) callOn(ctx context.Context, h schemas.ElementHandle, fn string, out interface{}) error {
	return s.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(cdp.NodeID(h)).Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve node: %w", err)
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}
