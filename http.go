package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const (
	// LocalsUser holds the *User resolved by the RequireUser guards
	LocalsUser = "user"
	// LocalsCSRFToken is where CSRF middleware exposes the form token
	LocalsCSRFToken = "csrf_token"

	ToastCookieName      = "portal_toast"
	OAuthStateCookieName = "portal_oauth_state"
)

// RouteAuthenticator adapts the Service to fiber: it builds request
// contexts, writes outcomes and guards routes.
type RouteAuthenticator struct {
	svc    *Service
	cfg    Config
	Logger Logger
	// ErrorHandler renders errors that are not redirects
	ErrorHandler func(c *fiber.Ctx, err error) error
}

func NewHTTPAuthenticator(svc *Service) *RouteAuthenticator {
	a := &RouteAuthenticator{
		svc:    svc,
		cfg:    svc.Config(),
		Logger: defLogger{},
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = normalizeLogger(logger)
	return a
}

// RequestContext captures what the auth subsystem needs from the request
func (a *RouteAuthenticator) RequestContext(c *fiber.Ctx) RequestContext {
	headers := http.Header{}
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers.Add(string(k), string(v))
	})

	form := url.Values{}
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		form.Add(string(k), string(v))
	})
	if mf, err := c.MultipartForm(); err == nil && mf != nil {
		for k, vals := range mf.Value {
			for _, v := range vals {
				form.Add(k, v)
			}
		}
	}

	return RequestContext{
		SessionToken: c.Cookies(a.cfg.GetSessionCookieName()),
		Method:       c.Method(),
		Path:         c.Path(),
		Host:         c.Hostname(),
		Form:         form,
		Headers:      headers,
		IP:           c.IP(),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
	}
}

// RequireUser rejects anonymous requests and stores the principal in locals
func (a *RouteAuthenticator) RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := a.svc.Sessions.RequireUser(c.UserContext(), a.RequestContext(c))
		if err != nil {
			return a.ErrorHandler(c, err)
		}
		a.setUser(c, user)
		return c.Next()
	}
}

// RequireRoles allows principals holding any of the roles
func (a *RouteAuthenticator) RequireRoles(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := a.svc.Authorizer.RequireUserWithRoles(c.UserContext(), a.RequestContext(c), roles...)
		if err != nil {
			return a.ErrorHandler(c, err)
		}
		a.setUser(c, user)
		return c.Next()
	}
}

// RequireAnonymous sends authenticated principals home
func (a *RouteAuthenticator) RequireAnonymous() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := a.svc.Sessions.RequireAnonymous(c.UserContext(), a.RequestContext(c)); err != nil {
			return a.ErrorHandler(c, err)
		}
		return c.Next()
	}
}

func (a *RouteAuthenticator) setUser(c *fiber.Ctx, user *User) {
	c.Locals(LocalsUser, user)
	c.SetUserContext(WithContext(c.UserContext(), user))
}

// CurrentUser returns the principal set by a guard
func CurrentUser(c *fiber.Ctx) (*User, bool) {
	user, ok := c.Locals(LocalsUser).(*User)
	return user, ok && user != nil
}

// WriteOutcome applies an Outcome to the response
func (a *RouteAuthenticator) WriteOutcome(c *fiber.Ctx, outcome *Outcome) error {
	if outcome == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	if outcome.ClearSession {
		a.clearCookie(c, a.cfg.GetSessionCookieName())
	}

	if outcome.Session != nil {
		a.setSessionCookie(c, outcome.Session)
	}

	if outcome.Toast != nil {
		a.setToast(c, outcome.Toast)
	}

	if len(outcome.FieldErrors) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"errors": outcome.FieldErrors,
		})
	}

	if outcome.RedirectTo != "" {
		return a.redirect(c, outcome.RedirectTo)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (a *RouteAuthenticator) redirect(c *fiber.Ctx, to string) error {
	status := fiber.StatusSeeOther
	if c.Method() == fiber.MethodGet || c.Method() == fiber.MethodHead {
		status = fiber.StatusFound
	}
	return c.Redirect(to, status)
}

// setSessionCookie uses a persistent cookie for remembered sessions and a
// browser session cookie otherwise.
func (a *RouteAuthenticator) setSessionCookie(c *fiber.Ctx, session *IssuedSession) {
	cookie := &fiber.Cookie{
		Name:     a.cfg.GetSessionCookieName(),
		Value:    session.Token,
		Path:     "/",
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	}
	if session.Persistent {
		cookie.Expires = session.ExpiresAt
	} else {
		cookie.SessionOnly = true
	}
	c.Cookie(cookie)
}

func (a *RouteAuthenticator) setShortCookie(c *fiber.Ctx, name, value string, ttl time.Duration) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) clearCookie(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetSecureCookies(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) setToast(c *fiber.Ctx, toast *Toast) {
	raw, err := json.Marshal(toast)
	if err != nil {
		a.Logger.Error("failed to encode toast: %s", err)
		return
	}
	a.setShortCookie(c, ToastCookieName, base64.RawURLEncoding.EncodeToString(raw), time.Minute)
}

// PopToast returns and clears the toast left by the previous response
func (a *RouteAuthenticator) PopToast(c *fiber.Ctx) *Toast {
	val := c.Cookies(ToastCookieName)
	if val == "" {
		return nil
	}
	a.clearCookie(c, ToastCookieName)

	raw, err := base64.RawURLEncoding.DecodeString(val)
	if err != nil {
		return nil
	}

	toast := &Toast{}
	if err := json.Unmarshal(raw, toast); err != nil {
		return nil
	}
	return toast
}

// defaultErrHandler redirects guard errors carrying a target and renders
// everything else as JSON with the error status code.
func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	if to, ok := RedirectTo(err); ok {
		return a.redirect(c, to)
	}

	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(http.StatusInternalServerError)
	}

	a.Logger.Info("request error %s %s: %s (%s) %s",
		c.Method(), c.OriginalURL(), richErr.Message, richErr.TextCode, print.MaybePrettyJSON(richErr.Metadata),
	)

	status := richErr.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}

	message := richErr.Message
	if status >= http.StatusInternalServerError {
		message = "An unexpected server error occurred"
	}

	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  richErr.TextCode,
	})
}
