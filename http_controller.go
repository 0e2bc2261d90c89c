package auth

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// AuthControllerRoutes are the paths served by the AuthController
type AuthControllerRoutes struct {
	Login          string
	Logout         string
	Provider       string
	Onboarding     string
	PasswordForgot string
	PasswordReset  string
	Connections    string
	Approve        string
}

type AuthController struct {
	Debug  bool
	Logger Logger
	Routes *AuthControllerRoutes
	svc    *Service
	auther *RouteAuthenticator
	states *StateCodec
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

func WithStateCodec(codec *StateCodec) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if codec != nil {
			c.states = codec
		}
		return c
	}
}

func NewAuthController(svc *Service, auther *RouteAuthenticator, opts ...AuthControllerOption) *AuthController {
	cfg := svc.Config()
	c := &AuthController{
		Logger: defLogger{},
		svc:    svc,
		auther: auther,
		states: NewStateCodec(cfg.GetSigningKey()),
		Routes: &AuthControllerRoutes{
			Login:          cfg.GetLoginRoute(),
			Logout:         "/logout",
			Provider:       "/auth",
			Onboarding:     cfg.GetOnboardingRoute(),
			PasswordForgot: "/password/forgot",
			PasswordReset:  "/password/reset",
			Connections:    cfg.GetConnectionsRoute(),
			Approve:        "/admin/users/:id/approve",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	return c
}

// RegisterAuthRoutes mounts the login, provider, onboarding and password
// reset routes on app.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController) {
	anon := controller.auther.RequireAnonymous()
	user := controller.auther.RequireUser()

	app.Get(controller.Routes.Login, anon, controller.LoginShow)
	app.Post(controller.Routes.Login, anon, controller.LoginPost)
	app.Post(controller.Routes.Logout, controller.LogOut)

	app.Get(controller.Routes.Provider+"/:provider", controller.ProviderBegin)
	app.Get(controller.Routes.Provider+"/:provider/callback", controller.ProviderCallback)

	app.Get(controller.Routes.Onboarding+"/:provider", anon, controller.OnboardingShow)
	app.Post(controller.Routes.Onboarding+"/:provider", anon, controller.OnboardingPost)

	app.Post(controller.Routes.PasswordForgot, anon, controller.PasswordForgotPost)
	app.Get(controller.Routes.PasswordReset, anon, controller.PasswordResetShow)
	app.Post(controller.Routes.PasswordReset, anon, controller.PasswordResetPost)

	app.Get(controller.Routes.Connections, user, controller.ConnectionsShow)
	app.Post(controller.Routes.Approve, controller.ApproveProfile)
}

func (a *AuthController) view(c *fiber.Ctx, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	data["toast"] = a.auther.PopToast(c)
	if token, ok := c.Locals(LocalsCSRFToken).(string); ok {
		data["csrf_token"] = token
	}
	return c.JSON(data)
}

func (a *AuthController) fail(c *fiber.Ctx, err error) error {
	return a.auther.ErrorHandler(c, err)
}

func (a *AuthController) LoginShow(c *fiber.Ctx) error {
	return a.view(c, fiber.Map{
		"providers":   a.svc.Authenticator.Providers().Names(),
		"redirect_to": c.Query("redirect_to"),
	})
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := new(LoginPayload)
	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("login parse payload: %s", err)
		return a.fail(c, ErrValidationFailed)
	}

	if a.Debug {
		a.Logger.Debug("login attempt for %q", payload.Identifier)
	}

	outcome, err := a.svc.Login(c.UserContext(), a.auther.RequestContext(c), *payload)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

func (a *AuthController) LogOut(c *fiber.Ctx) error {
	outcome, err := a.svc.Logout(c.UserContext(), a.auther.RequestContext(c))
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

// ProviderBegin redirects to the provider authorization endpoint
func (a *AuthController) ProviderBegin(c *fiber.Ctx) error {
	name := strings.ToLower(c.Params("provider"))

	provider, err := a.svc.Authenticator.Providers().Get(name)
	if err != nil {
		return a.fail(c, err)
	}

	nonce, state, err := a.states.Encode(name, c.QueryBool("remember"))
	if err != nil {
		return a.fail(c, err)
	}

	a.auther.setShortCookie(c, OAuthStateCookieName, nonce, a.states.ttl)
	return c.Redirect(provider.AuthCodeURL(state), fiber.StatusFound)
}

// ProviderCallback completes a provider round trip
func (a *AuthController) ProviderCallback(c *fiber.Ctx) error {
	name := strings.ToLower(c.Params("provider"))
	nonce := c.Cookies(OAuthStateCookieName)
	a.auther.clearCookie(c, OAuthStateCookieName)

	if errCode := c.Query("error"); errCode != "" {
		a.Logger.Info("provider %s returned error %s: %s", name, errCode, c.Query("error_description"))
		return a.auther.WriteOutcome(c, &Outcome{
			Toast:      errorToast("Authentication failed", "Authentication failed, please try again."),
			RedirectTo: a.svc.Config().GetLoginRoute(),
		})
	}

	state, err := a.states.Decode(c.Query("state"), nonce, name)
	if err != nil {
		a.Logger.Info("provider %s callback rejected: %s", name, err)
		return a.auther.WriteOutcome(c, &Outcome{
			Toast:      errorToast("Authentication failed", "Your sign in attempt expired, please try again."),
			RedirectTo: a.svc.Config().GetLoginRoute(),
		})
	}

	outcome, err := a.svc.HandleProviderCallback(
		c.UserContext(),
		a.auther.RequestContext(c),
		name,
		c.Query("code"),
		state.Remember,
	)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

func (a *AuthController) OnboardingShow(c *fiber.Ctx) error {
	v, err := a.svc.OnboardingPrefill(c.UserContext(), c.Query("verification"))
	if err != nil {
		return a.auther.WriteOutcome(c, &Outcome{
			Toast:      errorToast("Onboarding expired", "Please sign in with your provider again."),
			RedirectTo: a.svc.Config().GetLoginRoute(),
		})
	}

	return a.view(c, fiber.Map{
		"provider":     v.Data.ProviderName,
		"verification": v.ID,
		"record": fiber.Map{
			"username": v.Data.Username,
			"name":     v.Data.Name,
			"email":    v.Data.Email,
		},
	})
}

func (a *AuthController) OnboardingPost(c *fiber.Ctx) error {
	payload := new(OnboardingPayload)
	if err := c.BodyParser(payload); err != nil {
		a.Logger.Error("onboarding parse payload: %s", err)
		return a.fail(c, ErrValidationFailed)
	}
	if payload.VerificationID == "" {
		payload.VerificationID = c.Query("verification")
	}

	outcome, err := a.svc.CompleteOnboarding(c.UserContext(), a.auther.RequestContext(c), *payload)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

func (a *AuthController) PasswordForgotPost(c *fiber.Ctx) error {
	payload := new(PasswordResetRequestPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.fail(c, ErrValidationFailed)
	}

	outcome, err := a.svc.RequestPasswordReset(c.UserContext(), a.auther.RequestContext(c), *payload)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

func (a *AuthController) PasswordResetShow(c *fiber.Ctx) error {
	id := c.Query("verification")
	if _, err := a.svc.Verifications.Peek(c.UserContext(), id, PurposePasswordReset); err != nil {
		return a.auther.WriteOutcome(c, &Outcome{
			Toast:      errorToast("Reset link expired", "Please request a new password reset link."),
			RedirectTo: a.Routes.PasswordForgot,
		})
	}
	return a.view(c, fiber.Map{"verification": id})
}

func (a *AuthController) PasswordResetPost(c *fiber.Ctx) error {
	payload := new(PasswordResetPayload)
	if err := c.BodyParser(payload); err != nil {
		return a.fail(c, ErrValidationFailed)
	}

	outcome, err := a.svc.ResetPassword(c.UserContext(), a.auther.RequestContext(c), *payload)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}

// ConnectionsShow lists the provider connections of the current user
func (a *AuthController) ConnectionsShow(c *fiber.Ctx) error {
	user, ok := CurrentUser(c)
	if !ok {
		return a.fail(c, withRedirect(ErrUnauthenticated, a.svc.Config().GetLoginRoute()))
	}

	conns, err := a.svc.repos.Connections().ListByUser(c.UserContext(), user.ID)
	if err != nil {
		return a.fail(c, err)
	}

	connected := map[string]bool{}
	for _, conn := range conns {
		connected[conn.ProviderName] = true
	}

	available := []fiber.Map{}
	for _, name := range a.svc.Authenticator.Providers().Names() {
		available = append(available, fiber.Map{
			"name":      name,
			"connected": connected[name],
			"url":       fmt.Sprintf("%s/%s", a.Routes.Provider, name),
		})
	}

	return a.view(c, fiber.Map{
		"connections": conns,
		"providers":   available,
	})
}

func (a *AuthController) ApproveProfile(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return a.fail(c, ErrNotFound)
	}

	outcome, err := a.svc.ApproveProfile(c.UserContext(), a.auther.RequestContext(c), id)
	if err != nil {
		return a.fail(c, err)
	}
	return a.auther.WriteOutcome(c, outcome)
}
