// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/config"
)

const (
	disposeTimeout      = 5 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Manager owns one Chrome process and hands out drivers, each bound to its
// own browser context (separate cookies, storage and navigation history).
type Manager struct {
	parent  context.Context
	cfg     config.BrowserConfig
	quality int
	logger  *zap.Logger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	initOnce sync.Once
	initErr  error

	// Browser context creation is serialized on the browser connection.
	createMu sync.Mutex

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
}

var _ schemas.DriverFactory = (*Manager)(nil)

// NewManager creates a manager. Chrome is launched on the first NewDriver
// call and lives until Shutdown. Canceling parent does not stop the browser,
// so stopped runs can still capture their final screenshot.
func NewManager(parent context.Context, cfg config.BrowserConfig, screenshotQuality int, logger *zap.Logger) *Manager {
	return &Manager{
		parent:   context.WithoutCancel(parent),
		cfg:      cfg,
		quality:  screenshotQuality,
		logger:   logger.Named("browser_manager"),
		sessions: make(map[string]*Session),
	}
}

// ExecOptions builds the Chrome launch options for cfg.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	flags := launchFlags(cfg)
	opts := make([]chromedp.ExecAllocatorOption, 0, len(flags))
	for name, value := range flags {
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// launchFlags maps cfg to command line switches. Entries of cfg.Args may be
// bare flags or key=value pairs, with or without leading dashes.
func launchFlags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		"no-sandbox":               true,
		"disable-gpu":              true,
		"no-first-run":             true,
		"no-default-browser-check": true,
		"enable-automation":        true,
		"disable-dev-shm-usage":    true,
	}
	if cfg.Headless {
		flags["headless"] = true
		flags["hide-scrollbars"] = true
	}
	if cfg.IgnoreTLSErrors {
		flags["ignore-certificate-errors"] = true
	}
	if cfg.Viewport.Width > 0 && cfg.Viewport.Height > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.Viewport.Width, cfg.Viewport.Height)
	}
	for _, arg := range cfg.Args {
		key, value, found := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if key == "" {
			continue
		}
		if found {
			flags[key] = value
		} else {
			flags[key] = true
		}
	}
	return flags
}

// start launches Chrome once.
func (m *Manager) start() error {
	m.initOnce.Do(func() {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))

		allocCtx, allocCancel := chromedp.NewExecAllocator(m.parent, ExecOptions(m.cfg)...)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx,
			chromedp.WithLogf(m.logger.Sugar().Debugf),
			chromedp.WithErrorf(m.logger.Sugar().Warnf),
		)
		// An empty Run starts the process and attaches to its first tab.
		if err := chromedp.Run(browserCtx); err != nil {
			browserCancel()
			allocCancel()
			m.initErr = fmt.Errorf("failed to launch browser: %w", err)
			return
		}
		m.allocCancel = allocCancel
		m.browserCtx = browserCtx
		m.browserCancel = browserCancel
		m.logger.Info("Browser launched.")
	})
	return m.initErr
}

// browserExecutor returns a context whose CDP commands go to the browser
// endpoint rather than a page.
func (m *Manager) browserExecutor() context.Context {
	return cdp.WithExecutor(m.browserCtx, chromedp.FromContext(m.browserCtx).Browser)
}

// NewDriver creates an isolated browser context with a single blank page.
// The returned release func disposes of the context and must be called once
// the run is finished.
func (m *Manager) NewDriver(ctx context.Context) (schemas.Driver, func(), error) {
	if err := m.start(); err != nil {
		return nil, nil, err
	}

	// 1. Create the browser context and its page.
	browserContextID, targetID, err := m.createTarget(ctx)
	if err != nil {
		return nil, nil, err
	}

	// 2. Attach to the page.
	tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(targetID))
	setup := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(m.cfg.Viewport.Width), int64(m.cfg.Viewport.Height), 1, false),
	}
	if m.cfg.IgnoreTLSErrors {
		setup = append(setup, security.SetIgnoreCertificateErrors(true))
	}
	runCtx, cancel := CombineContext(tabCtx, ctx)
	err = chromedp.Run(runCtx, setup)
	cancel()
	if err != nil {
		tabCancel()
		m.dispose(browserContextID)
		return nil, nil, fmt.Errorf("failed to prepare page: %w", err)
	}

	// 3. Register the session.
	s := &Session{
		id:      uuid.NewString(),
		ctx:     tabCtx,
		cfg:     m.cfg,
		quality: m.quality,
	}
	s.logger = m.logger.Named("session").With(zap.String("session_id", s.id))

	m.mu.Lock()
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			tabCancel()
			m.dispose(browserContextID)
			m.mu.Lock()
			delete(m.sessions, s.id)
			m.mu.Unlock()
			m.wg.Done()
			s.logger.Debug("Session released.")
		})
	}
	s.release = release

	s.logger.Debug("Session created.", zap.String("browser_context_id", string(browserContextID)))
	return s, release, nil
}

func (m *Manager) createTarget(ctx context.Context) (cdp.BrowserContextID, target.ID, error) {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", "", fmt.Errorf("context canceled before creating browser context: %w", err)
	}
	execCtx, cancel := CombineContext(m.browserExecutor(), ctx)
	defer cancel()

	browserContextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(execCtx)
	if err != nil {
		return "", "", fmt.Errorf("failed to create browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(browserContextID).Do(execCtx)
	if err != nil {
		m.dispose(browserContextID)
		return "", "", fmt.Errorf("failed to create target: %w", err)
	}
	return browserContextID, targetID, nil
}

// dispose is best-effort; the browser may already be gone.
func (m *Manager) dispose(id cdp.BrowserContextID) {
	if m.browserCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(m.browserExecutor(), disposeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(ctx); err != nil {
		m.logger.Debug("Failed to dispose browser context.", zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}

// Active reports the number of unreleased sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown releases every session and stops Chrome.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.browserCtx == nil {
		m.logger.Debug("Browser never launched, nothing to shut down.")
		return nil
	}
	m.logger.Info("Shutting down browser manager.")

	// 1. Release whatever the runs left behind.
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()
	for _, s := range open {
		s.release()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("Timeout waiting for sessions to close. Proceeding with forceful shutdown.", zap.Error(ctx.Err()))
	}

	// 2. Close the browser gracefully, then kill the process.
	closed := make(chan error, 1)
	go func() { closed <- chromedp.Cancel(m.browserCtx) }()
	var err error
	select {
	case err = <-closed:
	case <-time.After(shutdownGracePeriod):
		err = fmt.Errorf("browser did not exit within %s", shutdownGracePeriod)
	}
	m.browserCancel()
	m.allocCancel()

	if err != nil && err != context.Canceled {
		m.logger.Error("Failed to close browser.", zap.Error(err))
		return fmt.Errorf("failed to close browser: %w", err)
	}
	m.logger.Info("Browser manager shutdown complete.")
	return nil
}
