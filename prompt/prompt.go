// Package prompt decides when the email capture modal may be shown and
// validates what visitors type into it.
package prompt

import (
	"net/http"
	"regexp"
	"strconv"
	"time"
)

const (
	DefaultCookieName = "email_prompt_shown"
	DefaultExpiry     = 30 * 24 * time.Hour
	DefaultDelay      = 3 * time.Second
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail applies the same permissive shape check the modal uses.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

// Gate tracks the "already shown" cookie. The cookie value is the unix time
// at which it expires, so a stale cookie a browser failed to evict is still
// ignored.
type Gate struct {
	CookieName     string
	Expiry         time.Duration
	Delay          time.Duration
	FirstVisitOnly bool
	Secure         bool
	Now            func() time.Time
}

// NewGate returns a gate with the defaults: email_prompt_shown, 30 days,
// 3 second delay, first visit only.
func NewGate() *Gate {
	return &Gate{
		CookieName:     DefaultCookieName,
		Expiry:         DefaultExpiry,
		Delay:          DefaultDelay,
		FirstVisitOnly: true,
		Now:            time.Now,
	}
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Gate) name() string {
	if g.CookieName == "" {
		return DefaultCookieName
	}
	return g.CookieName
}

// ShouldShow reports whether the modal may be displayed for r.
func (g *Gate) ShouldShow(r *http.Request) bool {
	if !g.FirstVisitOnly {
		return true
	}
	c, err := r.Cookie(g.name())
	if err != nil || c.Value == "" {
		return true
	}
	exp, err := strconv.ParseInt(c.Value, 10, 64)
	if err != nil {
		// Any other value was written by an older script and is trusted to
		// carry its own expiry.
		return false
	}
	return !g.now().Before(time.Unix(exp, 0))
}

// MarkShown writes the cookie that suppresses the modal. A zero Expiry
// gives a session cookie.
func (g *Gate) MarkShown(w http.ResponseWriter) {
	c := &http.Cookie{
		Name:     g.name(),
		Path:     "/",
		Secure:   g.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if g.Expiry > 0 {
		exp := g.now().Add(g.Expiry)
		c.Value = strconv.FormatInt(exp.Unix(), 10)
		c.Expires = exp.UTC()
		c.MaxAge = int(g.Expiry / time.Second)
	} else {
		c.Value = "true"
	}
	http.SetCookie(w, c)
}
