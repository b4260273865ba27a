package browser

import (
	"math"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"

	"github.com/JakeFAU/album-publisher/internal/publish"
)

func toCookieParams(cookies []publish.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if param.Path == "" {
			param.Path = "/"
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			t := cdp.TimeSinceEpoch(time.Unix(int64(sec), int64(frac*1e9)))
			param.Expires = &t
		}
		if s, ok := sameSite(c.SameSite); ok {
			param.SameSite = s
		}
		params = append(params, param)
	}
	return params
}

func fromNetworkCookies(cookies []*network.Cookie) []publish.Cookie {
	out := make([]publish.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if c == nil {
			continue
		}
		pc := publish.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
		// Session cookies report -1.
		if c.Expires > 0 {
			pc.Expires = c.Expires
		}
		out = append(out, pc)
	}
	return out
}

func sameSite(v string) (network.CookieSameSite, bool) {
	switch strings.ToLower(v) {
	case "strict":
		return network.CookieSameSiteStrict, true
	case "lax":
		return network.CookieSameSiteLax, true
	case "none":
		return network.CookieSameSiteNone, true
	}
	return "", false
}
