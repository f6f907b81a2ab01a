package httpclient

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// sharedTransport is the connection pool every lane of a process draws from.
// Lanes hit the same few hosts, so idle connections are kept per host rather
// than per lane.
var sharedTransport = sync.OnceValue(func() *http.Transport {
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
})

// NewClient returns a client on the shared pool. timeout bounds a whole
// exchange; zero or less disables it. With cookies set the client gets a
// jar of its own, so sessions of different lanes never mix.
func NewClient(timeout time.Duration, cookies bool) *http.Client {
	c := &http.Client{Transport: sharedTransport(), Timeout: max(timeout, 0)}
	if cookies {
		c.Jar = newJar()
	}
	return c
}

// withCookies returns a copy of c carrying a fresh jar.
func withCookies(c *http.Client) *http.Client {
	clone := *c
	clone.Jar = newJar()
	return &clone
}

func newJar() http.CookieJar {
	// cookiejar.New only fails on a bad Options value.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}
