package extractor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"groupwatch/internal/model"
)

// TypeBridge marks posts read from a feed bridge.
const TypeBridge = "bridge"

// URLPlaceholder is replaced with the escaped group URL in a bridge template.
const URLPlaceholder = "{url}"

const (
	bridgeTimeout  = 20 * time.Second
	maxFeedSize    = 5 * 1024 * 1024
	bridgeAgent    = "groupwatch/1.0"
	maxBridgePosts = 20
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// BridgeStrategy reads the group through an RSS/Atom bridge (for example an
// rss-bridge FacebookBridge endpoint) instead of the rendered page.
type BridgeStrategy struct {
	template string
	client   HTTPClient
	timeout  time.Duration
	logger   *slog.Logger
}

// NewBridge creates a BridgeStrategy. template must contain URLPlaceholder.
func NewBridge(template string, client HTTPClient, logger *slog.Logger) (*BridgeStrategy, error) {
	if !strings.Contains(template, URLPlaceholder) {
		return nil, fmt.Errorf("bridge url %q has no %s placeholder", template, URLPlaceholder)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BridgeStrategy{
		template: template,
		client:   client,
		timeout:  bridgeTimeout,
		logger:   logger,
	}, nil
}

// Name implements Strategy.
func (b *BridgeStrategy) Name() string { return TypeBridge }

// Extract implements Strategy. Fetch and parse failures are logged and
// reported as Empty.
func (b *BridgeStrategy) Extract(ctx context.Context, page Page) Outcome {
	feedURL := strings.ReplaceAll(b.template, URLPlaceholder, url.QueryEscape(page.URL))

	feed, err := b.fetch(ctx, feedURL)
	if err != nil {
		b.logger.Warn("bridge fetch failed", "url", page.URL, "error", err)
		return Empty
	}

	now := page.now()
	var posts []model.Post
	for _, item := range feed.Items {
		if len(posts) == maxBridgePosts {
			break
		}
		if p, ok := postFromItem(item, page.URL, now); ok {
			posts = append(posts, p)
		}
	}
	return Outcome{Posts: posts}
}

func (b *BridgeStrategy) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", bridgeAgent)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	if feed == nil {
		return nil, errors.New("empty feed")
	}
	return feed, nil
}

func postFromItem(item *gofeed.Item, groupURL string, now time.Time) (model.Post, bool) {
	content := plainText(item.Description)
	if content == "" {
		content = plainText(item.Content)
	}
	if content == "" {
		content = strings.TrimSpace(item.Title)
	}
	if content == "" {
		return model.Post{}, false
	}

	p := model.Post{
		ID:        itemID(item),
		Content:   content,
		Author:    itemAuthor(item),
		Timestamp: FormatTime(now),
		URL:       item.Link,
		Type:      TypeBridge,
	}
	if p.URL == "" {
		p.URL = groupURL
	}
	switch {
	case item.PublishedParsed != nil:
		p.Timestamp = FormatTime(*item.PublishedParsed)
	case item.UpdatedParsed != nil:
		p.Timestamp = FormatTime(*item.UpdatedParsed)
	}

	if item.Image != nil && item.Image.URL != "" {
		p.Images = append(p.Images, item.Image.URL)
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" && !slices.Contains(p.Images, enc.URL) {
			p.Images = append(p.Images, enc.URL)
		}
	}
	return p, true
}

// itemID returns the item GUID, or a hash of title and link when it has none.
func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

func plainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.TrimSpace(html)
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
