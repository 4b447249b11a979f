// Package extract turns raw sources (URLs, uploaded PDFs) into clean
// text ready for chunking. HTML pages go through readability
// boilerplate stripping and HTML-to-Markdown conversion; Markdown and
// plain text pass through; PDFs are read page by page.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/knoguchi/rag/internal/apperr"
)

const (
	// DefaultFetchTimeout caps a whole URL fetch (headers + body).
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxBytes bounds how much of a response body is read.
	DefaultMaxBytes int64 = 8 * 1000 * 1000
)

// FetcherConfig tunes Fetcher behavior. The zero value gets defaults.
type FetcherConfig struct {
	Timeout    time.Duration
	MaxBytes   int64
	UserAgent  string
	HTTPClient *http.Client
}

// Fetcher downloads a URL and extracts its main text content.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	userAgent string
}

// NewFetcher creates a Fetcher with hardened defaults: bounded dial and
// response-header timeouts and a hard cap on the whole request.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	client := cfg.HTTPClient
	if client == nil {
		dialer := &net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				ForceAttemptHTTP2:     true,
				TLSHandshakeTimeout:   7 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 10 * time.Second,
			},
			Timeout: timeout,
		}
	}

	return &Fetcher{client: client, maxBytes: maxBytes, userAgent: cfg.UserAgent}
}

// FetchText downloads rawURL and returns its cleaned text content.
// HTML responses are stripped to the main article and converted to
// Markdown; text/markdown and text/plain bodies are returned as-is.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceInvalidURL, "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", apperr.New(apperr.KindSourceInvalidURL, "unsupported scheme: "+u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceInvalidURL, "build request", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/markdown;q=0.9,text/plain;q=0.8,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", apperr.Wrap(apperr.KindSourceTimeout, "fetching "+rawURL, err)
		}
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "fetching "+rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.New(apperr.KindSourceFetchFailed,
			fmt.Sprintf("fetching %s: status %d", rawURL, resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, f.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		if isTimeout(err) {
			return "", apperr.Wrap(apperr.KindSourceTimeout, "reading "+rawURL, err)
		}
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "reading "+rawURL, err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", apperr.New(apperr.KindSourceFetchFailed,
			fmt.Sprintf("response exceeds %d bytes", f.maxBytes))
	}

	ctype, cs := parseContentType(resp.Header.Get("Content-Type"))
	utf8Body, err := toUTF8(body, cs)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "charset decode", err)
	}

	var text string
	switch {
	case isHTML(ctype):
		text, err = htmlToText(string(utf8Body), resp.Request.URL)
		if err != nil {
			return "", err
		}
	default:
		// text/markdown, text/plain, or a README served without a
		// content type: the body already is the text.
		text = string(utf8Body)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.New(apperr.KindEmptySourceContent, "no text content at "+rawURL)
	}
	return text, nil
}

// htmlToText strips HTML boilerplate and converts the main article to
// Markdown. Falls back to converting the whole document when
// readability finds no main content.
func htmlToText(html string, base *url.URL) (string, error) {
	articleHTML := html
	title := ""
	if art, err := readability.FromReader(strings.NewReader(html), base); err == nil {
		if strings.TrimSpace(art.Content) != "" {
			articleHTML = art.Content
			title = strings.TrimSpace(art.Title)
		}
	}

	var opts []converter.ConvertOptionFunc
	if base != nil && base.Scheme != "" && base.Host != "" {
		opts = append(opts, converter.WithDomain(base.Scheme+"://"+base.Host))
	}
	md, err := htmltomarkdown.ConvertString(articleHTML, opts...)
	if err != nil {
		return "", apperr.Wrap(apperr.KindSourceFetchFailed, "html to markdown", err)
	}

	md = strings.TrimSpace(md)
	if title != "" && !strings.HasPrefix(strings.TrimLeft(md, "\n"), "# ") {
		md = "# " + title + "\n\n" + md
	}
	return md, nil
}

func parseContentType(h string) (ctype, cs string) {
	if h == "" {
		return "", ""
	}
	mt, params, err := mime.ParseMediaType(h)
	if err != nil {
		return strings.ToLower(h), ""
	}
	return strings.ToLower(mt), strings.ToLower(params["charset"])
}

func isHTML(ctype string) bool {
	return ctype == "text/html" || ctype == "application/xhtml+xml" || strings.HasSuffix(ctype, "html")
}

func toUTF8(b []byte, label string) ([]byte, error) {
	if label == "" || strings.EqualFold(label, "utf-8") || strings.EqualFold(label, "utf8") {
		return b, nil
	}
	r, err := charset.NewReaderLabel(label, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
