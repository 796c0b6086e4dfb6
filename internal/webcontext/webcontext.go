// Package webcontext turns a web page into plain reference text for a
// phase prompt.
package webcontext

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	htmldom "golang.org/x/net/html"
)

const (
	DefaultMaxChars = 4000
	maxBodyBytes    = 2 << 20
	defaultTimeout  = 15 * time.Second
)

var ErrBadStatus = errors.New("unexpected HTTP status")

type Fetcher struct {
	Client   *http.Client
	MaxChars int
	// UserAgent is sent with every request when set.
	UserAgent string
}

func New(maxChars int) *Fetcher {
	return &Fetcher{
		Client:   &http.Client{Timeout: defaultTimeout},
		MaxChars: maxChars,
	}
}

// Text fetches url and returns its readable text, truncated to MaxChars.
// HTML pages lose scripts, styles and markup; other text bodies are kept as is.
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("context url %q: must be an absolute http(s) URL", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if f.UserAgent != "" {
		req.Header.Set("User-Agent", f.UserAgent)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: %w: %d", u, ErrBadStatus, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	var text string
	if mediaType == "" || mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		text, err = htmlText(body)
	} else {
		var b []byte
		b, err = io.ReadAll(body)
		text = string(b)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u, err)
	}
	return truncate(collapse(text), f.maxChars()), nil
}

func (f *Fetcher) maxChars() int {
	if f.MaxChars > 0 {
		return f.MaxChars
	}
	return DefaultMaxChars
}

func htmlText(r io.Reader) (string, error) {
	root, err := htmldom.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)
	doc.Find("script, style, noscript, template, svg").Remove()

	var sb strings.Builder
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		sb.WriteString(title)
		sb.WriteString("\n\n")
	}
	doc.Find("title").Remove()
	sb.WriteString(doc.Find("body").Text())
	if sb.Len() == 0 {
		sb.WriteString(doc.Text())
	}
	return sb.String(), nil
}

// collapse squeezes runs of blank space while keeping paragraph breaks.
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func truncate(s string, maxChars int) string {
	r := []rune(s)
	if len(r) <= maxChars {
		return s
	}
	return string(r[:maxChars]) + "..."
}
