package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	fcsrf "filippo.io/csrf"
	"github.com/gofiber/fiber/v2"
	auth "github.com/goliatone/go-portal-auth"
)

var (
	ErrTokenMismatch    = errors.New("CSRF token mismatch")
	ErrTokenMissing     = errors.New("CSRF token missing")
	ErrSecureKeyMissing = errors.New("CSRF secure key required")
	ErrCrossOrigin      = errors.New("cross origin request rejected")
)

// DefaultTokenLength is the default length for the token nonce
const DefaultTokenLength = 32

// DefaultCookieName holds the double submit token
const DefaultCookieName = "portal_csrf"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the default header name for CSRF tokens
const DefaultHeaderName = "X-CSRF-Token"

// Config defines the configuration for the CSRF protector
type Config struct {
	// SecureKey signs the tokens, required
	SecureKey []byte

	// TokenLength defines the length of the token nonce
	TokenLength int

	CookieName    string
	FormFieldName string
	HeaderName    string

	// CookieSecure sets the Secure flag on the token cookie
	CookieSecure bool

	// Expiration of the token cookie
	Expiration time.Duration

	// TrustedOrigins are allowed to post cross origin, e.g. "https://admin.example.com"
	TrustedOrigins []string
}

// Protector validates mutating submissions twice: a cross origin check on
// the Origin and Sec-Fetch-Site headers, then a signed double submit token.
type Protector struct {
	cfg    Config
	origin *fcsrf.Protection
}

var _ auth.CSRFValidator = (*Protector)(nil)

func New(config ...Config) (*Protector, error) {
	cfg := configDefault(config...)
	if len(cfg.SecureKey) == 0 {
		return nil, ErrSecureKeyMissing
	}

	origin := fcsrf.New()
	for _, o := range cfg.TrustedOrigins {
		if err := origin.AddTrustedOrigin(o); err != nil {
			return nil, err
		}
	}

	return &Protector{cfg: cfg, origin: origin}, nil
}

// Middleware makes sure the client holds a token cookie and exposes the
// token to handlers under auth.LocalsCSRFToken.
func (p *Protector) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(p.cfg.CookieName)
		if token == "" || p.verify(token) != nil {
			var err error
			token, err = p.generate()
			if err != nil {
				return err
			}
			c.Cookie(&fiber.Cookie{
				Name:     p.cfg.CookieName,
				Value:    token,
				Path:     "/",
				Expires:  time.Now().Add(p.cfg.Expiration),
				HTTPOnly: true,
				Secure:   p.cfg.CookieSecure,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}

		c.Locals(auth.LocalsCSRFToken, token)
		c.Locals(auth.LocalsCSRFToken+"_field", p.cfg.FormFieldName)
		c.Locals(auth.LocalsCSRFToken+"_header", p.cfg.HeaderName)
		return c.Next()
	}
}

// Validate implements auth.CSRFValidator
func (p *Protector) Validate(rc auth.RequestContext) error {
	if !rc.IsMutating() {
		return nil
	}

	if err := p.checkOrigin(rc); err != nil {
		return err
	}

	expected := cookieValue(rc.Headers, p.cfg.CookieName)
	if expected == "" {
		return ErrTokenMissing
	}

	received := rc.FormValue(p.cfg.FormFieldName)
	if received == "" {
		received = rc.Header(p.cfg.HeaderName)
	}
	if received == "" {
		return ErrTokenMissing
	}

	if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return ErrTokenMismatch
	}

	return p.verify(received)
}

func (p *Protector) checkOrigin(rc auth.RequestContext) error {
	req, err := http.NewRequest(rc.Method, "http://"+rc.Host+rc.Path, nil)
	if err != nil {
		return ErrCrossOrigin
	}
	req.Host = rc.Host
	for k, vals := range rc.Headers {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}

	if err := p.origin.Check(req); err != nil {
		return errors.Join(ErrCrossOrigin, err)
	}
	return nil
}

func (p *Protector) generate() (string, error) {
	nonce := make([]byte, p.cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	payload := hex.EncodeToString(nonce)
	return payload + "." + p.sign(payload), nil
}

func (p *Protector) verify(token string) error {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || payload == "" {
		return ErrTokenMismatch
	}

	if !hmac.Equal([]byte(signature), []byte(p.sign(payload))) {
		return ErrTokenMismatch
	}
	return nil
}

func (p *Protector) sign(payload string) string {
	mac := hmac.New(sha256.New, p.cfg.SecureKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func cookieValue(headers http.Header, name string) string {
	req := http.Request{Header: headers}
	cookie, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength <= 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 12 * time.Hour
	}
	return cfg
}
