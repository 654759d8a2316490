// Package cookiejar declares the narrow cookie-jar interface that a
// connection or session consults on both directions of a request
// plus a default in-memory implementation backed by
// net/http/cookiejar. Cookie scope matching (domain/path rules per RFC
// 6265) is intentionally not reimplemented here; it is out of this
// module's core scope.
package cookiejar

import (
	"net/http"
	stdcookiejar "net/http/cookiejar"
	"net/url"

	"golang.org/x/net/publicsuffix"
)

// Jar is consulted by a connection or session on both directions of a
// request: CookieFor supplies the outbound "Cookie" header value for a
// target URL, and SetCookies absorbs a response's "Set-Cookie" header
// values for that URL's scope.
type Jar interface {
	// CookieFor returns the value to use for the "Cookie" request
	// header when issuing a request to u, or "" if the jar has nothing
	// for that scope.
	CookieFor(u *url.URL) string

	// SetCookies absorbs the "Set-Cookie" header values from a response
	// to a request for u.
	SetCookies(u *url.URL, setCookieHeader []string)
}

// memoryJar adapts *cookiejar.Jar's domain/path-scoped storage to the
// narrow Jar interface above.
type memoryJar struct {
	jar *stdcookiejar.Jar
}

// NewMemoryJar returns an in-memory Jar using the public suffix list to
// decide which domains may set cookies for their parent domains.
func NewMemoryJar() (Jar, error) {
	jar, err := stdcookiejar.New(&stdcookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &memoryJar{jar: jar}, nil
}

func (j *memoryJar) CookieFor(u *url.URL) string {
	cookies := j.jar.Cookies(u)
	if len(cookies) == 0 {
		return ""
	}
	req := &http.Request{URL: u, Header: make(http.Header)}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req.Header.Get("Cookie")
}

func (j *memoryJar) SetCookies(u *url.URL, setCookieHeader []string) {
	if len(setCookieHeader) == 0 {
		return
	}
	header := http.Header{"Set-Cookie": setCookieHeader}
	resp := &http.Response{Header: header}
	j.jar.SetCookies(u, resp.Cookies())
}
