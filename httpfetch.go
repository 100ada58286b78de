package botbox

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html"
)

// FetchSSRFEnabled controls whether the SSRF-safe dialer and hostname
// pre-check are used for http_fetch. Tests set this to false so httptest
// servers on 127.0.0.1 are reachable.
var FetchSSRFEnabled = true

// forbiddenFetchHeaders is the blocklist of headers scripts cannot set.
var forbiddenFetchHeaders = map[string]bool{
	"host":                true,
	"transfer-encoding":   true,
	"connection":          true,
	"keep-alive":          true,
	"upgrade":             true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"x-forwarded-for":     true,
	"x-forwarded-host":    true,
	"x-forwarded-proto":   true,
	"x-real-ip":           true,
}

// FetchTransport is the http.RoundTripper used by http_fetch. Tests can
// override it.
var FetchTransport http.RoundTripper = &http.Transport{
	DialContext: ssrfSafeDialContext,
}

// fetchOptions mirrors the options table scripts pass to http_fetch.
type fetchOptions struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
	// Extract post-processes the response body: "" (raw), "title" (the
	// document title), or "text" (visible text with markup stripped).
	Extract string `json:"extract"`
}

// registerHTTPFetch installs the Go half of sandbox.http_fetch. The call
// charges the per-run outbound quota and reserves a rate-limiter slot
// synchronously; the request itself, including any rate-limit wait, runs
// as native async work delivered over the callback bridge, so a drained
// bucket suspends the calling script instead of stalling the interpreter.
func registerHTTPFetch(r *Runtime) error {
	timeout := time.Duration(r.cfg.FetchTimeoutSec) * time.Second
	maxBytes := int64(r.cfg.MaxResponseBytes)

	return r.rt.RegisterFunc("__sbFetch", func(rawURL, optionsJSON string) (int, error) {
		sb := r.current
		if sb == nil {
			return 0, fmt.Errorf("no active sandbox run")
		}

		// Quota before rate limiter: an exhausted run fails regardless of
		// token availability.
		if sb.limits.httpCallsLeft.Add(-1) < 0 {
			return 0, fmt.Errorf("http quota exceeded: no outbound calls left")
		}

		var opts fetchOptions
		if err := json.Unmarshal([]byte(optionsJSON), &opts); err != nil {
			return 0, fmt.Errorf("http_fetch: parsing options: %s", err.Error())
		}
		if opts.Method == "" {
			opts.Method = "GET"
		}
		switch opts.Extract {
		case "", "title", "text":
		default:
			return 0, fmt.Errorf("http_fetch: unknown extract mode %q", opts.Extract)
		}

		if rawURL == "" {
			return 0, fmt.Errorf("http_fetch requires a url")
		}
		if FetchSSRFEnabled && isPrivateHostname(rawURL) {
			return 0, fmt.Errorf("http_fetch to private addresses is not allowed")
		}

		wait := sb.limiter.Reserve()
		handle := r.futures.allocate()

		go func() {
			if wait > 0 {
				time.Sleep(wait)
			}
			values, err := doFetch(rawURL, opts, timeout, maxBytes)
			r.bridge.push(&pendingCallback{
				future:   handle,
				sandbox:  sb,
				complete: func() ([]any, error) { return values, err },
			})
		}()

		return int(handle), nil
	})
}

// doFetch performs the HTTP request and shapes the result for the future:
// [status, headersJSON, body]. Runs on a fetch goroutine; it must not touch
// the interpreter.
func doFetch(rawURL string, opts fetchOptions, timeout time.Duration, maxBytes int64) ([]any, error) {
	var bodyReader io.Reader
	if opts.Body != "" {
		bodyReader = strings.NewReader(opts.Body)
	}

	req, err := http.NewRequest(opts.Method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("http_fetch: %s", err.Error())
	}
	for k, v := range opts.Headers {
		if forbiddenFetchHeaders[strings.ToLower(k)] {
			continue
		}
		req.Header.Set(k, v)
	}
	// Ask for compressed bodies and decode them ourselves so the size cap
	// applies to the decoded text handed to the script.
	req.Header.Set("Accept-Encoding", "gzip, br")

	client := &http.Client{
		Timeout:   timeout,
		Transport: FetchTransport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 20 {
				return fmt.Errorf("too many redirects")
			}
			if FetchSSRFEnabled && isPrivateHostname(req.URL.String()) {
				return fmt.Errorf("redirect to private address is not allowed")
			}
			return nil
		},
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http_fetch: %s", err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			return nil, fmt.Errorf("http_fetch: decoding gzip body: %s", gzErr.Error())
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("http_fetch: reading body: %s", err.Error())
	}
	if int64(len(body)) > maxBytes {
		body = body[:maxBytes]
	}

	text := string(body)
	switch opts.Extract {
	case "title":
		text = extractTitle(text)
	case "text":
		text = extractText(text)
	}

	headers := make(map[string]string)
	for k, vals := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(vals, ", ")
	}
	headersJSON, _ := json.Marshal(headers)

	return []any{resp.StatusCode, string(headersJSON), text}, nil
}

// extractTitle returns the contents of the document's <title> element, or
// an empty string.
func extractTitle(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			var sb strings.Builder
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					sb.WriteString(c.Data)
				}
			}
			title = strings.TrimSpace(sb.String())
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

// extractText strips markup and returns the document's visible text with
// runs of whitespace collapsed.
func extractText(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(sb.String()), " ")
}

// --- SSRF protection ---

// isPrivateHostname performs a fast, non-resolving pre-check for obviously
// private hostnames and literal IP addresses.
func isPrivateHostname(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	hostname := u.Hostname()
	if hostname == "" {
		return true
	}
	lower := strings.ToLower(hostname)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return true
	}
	if ip := net.ParseIP(hostname); ip != nil {
		return isPrivateIP(ip)
	}
	return false
}

// ssrfSafeDialContext resolves DNS and validates the resolved IP against
// private ranges at connect time, preventing DNS rebinding / TOCTOU attacks.
func ssrfSafeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if !FetchSSRFEnabled {
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, addr)
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed for %s: %w", host, err)
	}
	var safeIP net.IPAddr
	found := false
	for _, ip := range ips {
		if !isPrivateIP(ip.IP) {
			safeIP = ip
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("http_fetch to private addresses is not allowed")
	}
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, net.JoinHostPort(safeIP.IP.String(), port))
}

// privateRanges is parsed once at init time.
var privateRanges []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8",
		"169.254.0.0/16", "172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24",
		"192.168.0.0/16", "198.18.0.0/15", "198.51.100.0/24", "203.0.113.0/24",
		"240.0.0.0/4",
		"::1/128", "fc00::/7", "fe80::/10",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR: " + cidr)
		}
		privateRanges = append(privateRanges, n)
	}
}

// isPrivateIP returns true if the IP is in a private, loopback, or
// link-local range.
func isPrivateIP(ip net.IP) bool {
	for _, n := range privateRanges {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
