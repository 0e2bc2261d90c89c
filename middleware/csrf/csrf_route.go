package csrf

import (
	"github.com/goliatone/go-router"
	auth "github.com/goliatone/go-portal-auth"
)

// DefaultContextKey is where Middleware stores the token
const DefaultContextKey = auth.LocalsCSRFToken

// TrapFields is implemented by bot traps that need hidden fields echoed by
// script rendered forms, see honeypot.Honeypot.
type TrapFields interface {
	Fields() map[string]string
}

// FormGuard is everything a script rendered portal form must send back for
// the submission to pass the CSRF and bot trap checks.
type FormGuard struct {
	Token      string            `json:"token"`
	FieldName  string            `json:"field_name"`
	HeaderName string            `json:"header_name"`
	Trap       map[string]string `json:"trap,omitempty"`
}

// RouteConfig controls the form guard endpoint
type RouteConfig struct {
	Path       string
	ContextKey string
	RouteName  string
	Trap       TrapFields
}

const (
	defaultRoutePath = "/csrf"
	defaultRouteName = "portal.csrf.form_guard"
)

// RegisterRoutes mounts a GET endpoint returning the FormGuard for the
// current request. Middleware must run first to issue the token.
func RegisterRoutes[T any](app router.Router[T], cfg ...RouteConfig) {
	conf := routeConfigDefault(cfg...)
	app.Get(conf.Path, formGuardHandler(conf)).SetName(conf.RouteName)
}

func routeConfigDefault(cfg ...RouteConfig) RouteConfig {
	conf := RouteConfig{
		Path:       defaultRoutePath,
		ContextKey: DefaultContextKey,
		RouteName:  defaultRouteName,
	}
	if len(cfg) == 0 {
		return conf
	}

	c := cfg[0]
	if c.Path != "" {
		conf.Path = c.Path
	}
	if c.ContextKey != "" {
		conf.ContextKey = c.ContextKey
	}
	if c.RouteName != "" {
		conf.RouteName = c.RouteName
	}
	conf.Trap = c.Trap
	return conf
}

func localString(ctx router.Context, key, fallback string) string {
	if v, ok := ctx.Locals(key).(string); ok && v != "" {
		return v
	}
	return fallback
}

func formGuardHandler(cfg RouteConfig) router.HandlerFunc {
	return func(ctx router.Context) error {
		guard := FormGuard{
			Token:      localString(ctx, cfg.ContextKey, ""),
			FieldName:  localString(ctx, cfg.ContextKey+"_field", DefaultFormFieldName),
			HeaderName: localString(ctx, cfg.ContextKey+"_header", DefaultHeaderName),
		}
		if guard.Token == "" {
			return ctx.JSON(router.StatusUnauthorized, map[string]string{
				"error": ErrTokenMissing.Error(),
				"code":  auth.TextCodeCsrfMismatch,
			})
		}

		if cfg.Trap != nil {
			guard.Trap = cfg.Trap.Fields()
		}

		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		ctx.SetHeader("Pragma", "no-cache")

		return ctx.JSON(router.StatusOK, guard)
	}
}
