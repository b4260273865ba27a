package publish

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LoginState is a step of the interactive login state machine.
type LoginState int

// Login states in transition order.
const (
	NotLoggedIn LoginState = iota
	LoginPageLoaded
	CredentialsFilled
	CaptchaSolved
	Submitted
	LoggedIn
)

func (s LoginState) String() string {
	switch s {
	case NotLoggedIn:
		return "not_logged_in"
	case LoginPageLoaded:
		return "login_page_loaded"
	case CredentialsFilled:
		return "credentials_filled"
	case CaptchaSolved:
		return "captcha_solved"
	case Submitted:
		return "submitted"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("login_state(%d)", int(s))
	}
}

// LoginObserver is notified of every interactive login attempt.
type LoginObserver func(attempt int, state LoginState, err error)

// SessionEstablisher obtains an authenticated page using one strategy.
type SessionEstablisher struct {
	strategy  SessionStrategy
	site      Site
	selectors Selectors
	timeouts  Timeouts
	creds     Credentials
	state     SessionState
	attempts  int
	solver    CaptchaSolver
	observer  LoginObserver
	logger    *zap.Logger
}

// NewSessionEstablisher builds an establisher from opts. solver is required
// only for SessionInteractive.
func NewSessionEstablisher(opts Options, solver CaptchaSolver, logger *zap.Logger) *SessionEstablisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := opts.LoginAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &SessionEstablisher{
		strategy:  opts.SessionStrategy,
		site:      opts.Site,
		selectors: opts.Selectors,
		timeouts:  opts.Timeouts,
		creds:     opts.Credentials,
		state:     opts.Session,
		attempts:  attempts,
		solver:    solver,
		logger:    logger.Named("session"),
	}
}

// OnLoginAttempt registers an observer for login attempts.
func (s *SessionEstablisher) OnLoginAttempt(fn LoginObserver) {
	s.observer = fn
}

// Establish leaves page authenticated or fails with ErrSessionExpired or
// ErrLoginFailed.
func (s *SessionEstablisher) Establish(ctx context.Context, page Page, rec *Recorder) error {
	switch s.strategy {
	case SessionReplay, SessionCookies:
		return s.replay(ctx, page, rec)
	case SessionInteractive, "":
		return s.interactive(ctx, page, rec)
	default:
		return fmt.Errorf("unknown session strategy %q", s.strategy)
	}
}

// replay restores the configured snapshot and verifies it. It never falls
// back to interactive login.
func (s *SessionEstablisher) replay(ctx context.Context, page Page, rec *Recorder) error {
	if s.state.Empty() {
		return &Error{Kind: ErrSessionExpired, Msg: "no session snapshot configured"}
	}
	if err := page.RestoreSession(ctx, s.state); err != nil {
		return &Error{Kind: ErrSessionExpired, Msg: "restore snapshot", Err: err}
	}
	if err := page.Navigate(ctx, s.site.BaseURL); err != nil {
		return fmt.Errorf("open site: %w", err)
	}
	removeAgeOverlay(ctx, page, s.selectors, s.timeouts, s.logger)
	ok, err := s.loggedIn(ctx, page)
	if err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if !ok {
		rec.Capture(ctx, page, "session_expired")
		return &Error{Kind: ErrSessionExpired, Msg: "login-only affordance missing after " + string(s.strategy)}
	}
	s.logger.Info("session restored", zap.String("strategy", string(s.strategy)))
	return nil
}

func (s *SessionEstablisher) interactive(ctx context.Context, page Page, rec *Recorder) error {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		state, err := s.attemptLogin(ctx, page)
		if s.observer != nil {
			s.observer(attempt, state, err)
		}
		if err == nil && state == LoggedIn {
			s.logger.Info("login succeeded", zap.Int("attempt", attempt))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.logger.Warn("login attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.attempts),
			zap.Stringer("state", state),
			zap.Error(err),
		)
		rec.Capture(ctx, page, fmt.Sprintf("login_failed_%d", attempt))
	}
	return &Error{Kind: ErrLoginFailed, Msg: fmt.Sprintf("%d attempts exhausted", s.attempts), Err: lastErr}
}

// attemptLogin walks the state machine once and returns the state reached.
func (s *SessionEstablisher) attemptLogin(ctx context.Context, page Page) (LoginState, error) {
	state := NotLoggedIn
	if err := page.Navigate(ctx, s.site.LoginURL); err != nil {
		return state, fmt.Errorf("open login page: %w", err)
	}
	state = LoginPageLoaded
	removeAgeOverlay(ctx, page, s.selectors, s.timeouts, s.logger)

	already, err := s.countLoggedIn(ctx, page)
	if err != nil {
		return state, err
	}
	if already {
		s.logger.Info("already logged in")
		return LoggedIn, nil
	}

	if err := page.Fill(ctx, s.selectors.Email, s.creds.Email); err != nil {
		return state, fmt.Errorf("fill email: %w", err)
	}
	if err := page.Fill(ctx, s.selectors.Password, s.creds.Password); err != nil {
		return state, fmt.Errorf("fill password: %w", err)
	}
	state = CredentialsFilled

	if s.solver == nil {
		return state, &Error{Kind: ErrCaptchaUnsolved, Msg: "no solver configured"}
	}
	image, err := page.Screenshot(ctx, s.selectors.CaptchaImage)
	if err != nil {
		return state, &Error{Kind: ErrCaptchaUnsolved, Msg: "capture challenge", Err: err}
	}
	code, err := s.solver.Solve(ctx, image)
	if err != nil {
		if !errors.Is(err, ErrCaptchaUnsolved) {
			err = &Error{Kind: ErrCaptchaUnsolved, Err: err}
		}
		return state, err
	}
	if err := page.Fill(ctx, s.selectors.CaptchaInput, code); err != nil {
		return state, fmt.Errorf("fill captcha: %w", err)
	}
	state = CaptchaSolved

	if err := page.Click(ctx, s.selectors.LoginSubmit); err != nil {
		return state, fmt.Errorf("submit login: %w", err)
	}
	state = Submitted

	ok, err := s.loggedIn(ctx, page)
	if err != nil {
		return state, fmt.Errorf("verify login: %w", err)
	}
	if !ok {
		return state, errors.New("login-only affordance missing after submit")
	}
	return LoggedIn, nil
}

// loggedIn waits up to the verify bound for the login-only affordance.
func (s *SessionEstablisher) loggedIn(ctx context.Context, page Page) (bool, error) {
	return waitUntil(ctx, s.timeouts.LoginVerify, s.timeouts.Poll, func(ctx context.Context) (bool, error) {
		return s.countLoggedIn(ctx, page)
	})
}

func (s *SessionEstablisher) countLoggedIn(ctx context.Context, page Page) (bool, error) {
	n, err := page.Count(ctx, s.selectors.LoggedIn)
	if err != nil {
		return false, fmt.Errorf("count %s: %w", s.selectors.LoggedIn, err)
	}
	return n > 0, nil
}

// removeAgeOverlay deletes the age/consent overlay. Clicking it redirects
// away from the current page, so it is removed from the DOM instead.
func removeAgeOverlay(ctx context.Context, page Page, sel Selectors, timeouts Timeouts, logger *zap.Logger) {
	if sel.AgeOverlay == "" {
		return
	}
	visible, err := waitUntil(ctx, timeouts.Overlay, timeouts.Poll, func(ctx context.Context) (bool, error) {
		return page.Visible(ctx, sel.AgeOverlay)
	})
	if err != nil || !visible {
		return
	}
	if err := page.Remove(ctx, sel.AgeOverlay); err != nil {
		logger.Warn("remove age overlay failed", zap.Error(err))
		return
	}
	logger.Debug("age overlay removed")
}
