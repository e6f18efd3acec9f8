package extractor

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"groupwatch/internal/model"
)

// Strategy names, also used as the post type.
const (
	TypeFeed  = "feed"
	TypeBroad = "broad"
	TypeText  = "text_extraction"
)

// UnknownAuthor is used when a post's author cannot be determined.
const UnknownAuthor = "Unknown User"

var (
	feedSelectors = []string{
		`[role="main"] [role="article"]`,
		`[data-pagelet="FeedUnit_0"]`,
		`[data-pagelet^="FeedUnit"]`,
		`.userContentWrapper`,
		`[data-testid="story-subtitle"]`,
		`div[data-ad-preview="message"]`,
	}

	contentSelectors = []string{
		`[data-testid="post_message"]`,
		`.userContent`,
		`[data-ad-preview="message"]`,
		`div[dir="auto"]`,
		`p`,
		`span`,
	}

	authorSelectors = []string{
		`h3 a[role="link"]`,
		`a[role="link"] strong`,
		`.actor-link`,
		`[data-testid="post_author_name"]`,
		`strong a`,
	}

	timeSelectors = []string{
		`a[role="link"][tabindex="0"]`,
		`.timestampContent`,
		`abbr[data-utime]`,
		`time`,
	}

	timeHint = regexp.MustCompile(`(?i)\d+[smhdw]|ago|hour|minute|day`)
)

const (
	broadMinText   = 30
	broadMaxText   = 5000
	broadMaxPosts  = 10
	textMinText    = 20
	textMaxText    = 2000
	textMaxPosts   = 5
	fallbackMinLen = 10
	fallbackMaxLen = 500
)

// FeedStrategy reads posts from the article containers of the group feed.
type FeedStrategy struct{}

// Name implements Strategy.
func (FeedStrategy) Name() string { return TypeFeed }

// Extract implements Strategy.
func (FeedStrategy) Extract(_ context.Context, page Page) Outcome {
	doc, err := parse(page)
	if err != nil {
		return Empty
	}

	var elements *goquery.Selection
	for _, sel := range feedSelectors {
		elements = doc.Find(sel)
		if elements.Length() > 0 {
			break
		}
	}

	var posts []model.Post
	elements.Each(func(i int, s *goquery.Selection) {
		if p, ok := postFromElement(s, i, TypeFeed, page); ok {
			posts = append(posts, p)
		}
	})
	return Outcome{Posts: posts}
}

// BroadStrategy scans every div for something that looks like a post: a
// reasonable amount of text plus a profile link, a relative time or an
// author link.
type BroadStrategy struct{}

// Name implements Strategy.
func (BroadStrategy) Name() string { return TypeBroad }

// Extract implements Strategy.
func (BroadStrategy) Extract(_ context.Context, page Page) Outcome {
	doc, err := parse(page)
	if err != nil {
		return Empty
	}

	var candidates []*goquery.Selection
	doc.Find("div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		n := utf8.RuneCountInString(text)
		if n <= broadMinText || n >= broadMaxText {
			return true
		}
		if s.Find(`a[href*="facebook.com"]`).Length() > 0 ||
			timeHint.MatchString(text) ||
			s.Find(`a[role="link"]`).Length() > 0 {
			candidates = append(candidates, s)
		}
		return len(candidates) < broadMaxPosts
	})

	var posts []model.Post
	for i, s := range candidates {
		if p, ok := postFromElement(s, i, TypeBroad, page); ok {
			posts = append(posts, p)
		}
	}
	return Outcome{Posts: posts}
}

// TextStrategy is the last resort: it takes distinct text blocks of
// post-like length and reports them with an unknown author.
type TextStrategy struct{}

// Name implements Strategy.
func (TextStrategy) Name() string { return TypeText }

// Extract implements Strategy.
func (TextStrategy) Extract(_ context.Context, page Page) Outcome {
	doc, err := parse(page)
	if err != nil {
		return Empty
	}

	now := page.now()
	seen := make(map[string]struct{})
	var posts []model.Post

	doc.Find(`p, div[dir="auto"], span`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := strings.TrimSpace(s.Text())
		n := utf8.RuneCountInString(text)
		if n <= textMinText || n >= textMaxText {
			return true
		}
		if _, ok := seen[text]; ok {
			return true
		}
		seen[text] = struct{}{}

		posts = append(posts, model.Post{
			ID:        fmt.Sprintf("text_%d_%d", i, now.UnixMilli()),
			Content:   text,
			Author:    UnknownAuthor,
			Timestamp: FormatTime(now),
			URL:       page.URL,
			Type:      TypeText,
		})
		return len(posts) < textMaxPosts
	})
	return Outcome{Posts: posts}
}

func parse(page Page) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// postFromElement reads content, author, time, permalink and images from a
// post container. Containers without any text are rejected.
func postFromElement(s *goquery.Selection, index int, kind string, page Page) (model.Post, bool) {
	now := page.now()
	post := model.Post{
		ID:        fmt.Sprintf("%s_post_%d_%d", kind, index, now.UnixMilli()),
		Timestamp: FormatTime(now),
		URL:       page.URL,
		Type:      kind,
		Images:    []string{},
	}

	post.Content = firstText(s, contentSelectors)
	if post.Content == "" {
		direct := strings.TrimSpace(s.Text())
		if utf8.RuneCountInString(direct) > fallbackMinLen {
			post.Content = truncate(direct, fallbackMaxLen)
		}
	}
	if post.Content == "" {
		return model.Post{}, false
	}

	post.Author = firstText(s, authorSelectors)

	for _, sel := range timeSelectors {
		el := s.Find(sel).First()
		if el.Length() == 0 {
			continue
		}
		value := timeValue(el)
		if value == "" {
			continue
		}
		post.Timestamp = ParseTimestamp(value, now)
		if href, ok := el.Attr("href"); ok && href != "" {
			post.URL = resolve(page.URL, href)
		}
		break
	}

	s.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src := resolve(page.URL, img.AttrOr("src", ""))
		if strings.HasPrefix(src, "http") &&
			!strings.Contains(src, "emoji") &&
			!strings.Contains(src, "static") {
			post.Images = append(post.Images, src)
		}
	})

	return post, true
}

func firstText(s *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func timeValue(el *goquery.Selection) string {
	if v := el.AttrOr("data-utime", ""); v != "" {
		return v
	}
	if v := el.AttrOr("title", ""); v != "" {
		return v
	}
	return strings.TrimSpace(el.Text())
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
