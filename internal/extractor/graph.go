package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"groupwatch/internal/filter"
	"groupwatch/internal/model"
)

// TypeGraph marks posts recovered from embedded page data.
const TypeGraph = "graph"

var edgesBlob = regexp.MustCompile(`\{.*"edges".*\}`)

// GraphStrategy mines the JSON blobs the site embeds in inline scripts for
// objects that look like posts. The shape of that data is undocumented and
// changes often, so this is best effort.
type GraphStrategy struct{}

// Name implements Strategy.
func (GraphStrategy) Name() string { return TypeGraph }

// Extract implements Strategy.
func (GraphStrategy) Extract(_ context.Context, page Page) Outcome {
	doc, err := parse(page)
	if err != nil {
		return Empty
	}

	m := &graphMiner{now: page.now()}
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if !strings.Contains(text, "graphql") && !strings.Contains(text, "edge_") {
			return
		}
		for _, blob := range edgesBlob.FindAllString(text, -1) {
			var data any
			if err := json.Unmarshal([]byte(blob), &data); err != nil {
				continue
			}
			m.walk(data)
		}
	})

	return Outcome{Posts: filter.Dedupe(m.posts)}
}

type graphMiner struct {
	now   time.Time
	posts []model.Post
}

func (m *graphMiner) walk(v any) {
	switch v := v.(type) {
	case []any:
		for _, item := range v {
			m.walk(item)
		}
	case map[string]any:
		// An edge's post node is collected here, so only its fields are walked.
		if n, ok := v["node"].(map[string]any); ok && looksLikePost(n) {
			m.collect(n)
			m.walkFields(n, "")
			m.walkFields(v, "node")
			return
		}
		if looksLikePost(v) {
			m.collect(v)
		}
		m.walkFields(v, "")
	}
}

func (m *graphMiner) walkFields(obj map[string]any, skip string) {
	for _, k := range slices.Sorted(maps.Keys(obj)) {
		if k != skip {
			m.walk(obj[k])
		}
	}
}

func (m *graphMiner) collect(node map[string]any) {
	if p, ok := m.post(node); ok {
		m.posts = append(m.posts, p)
	}
}

func looksLikePost(obj map[string]any) bool {
	return textOf(obj["message"]) != "" || textOf(obj["story"]) != ""
}

func (m *graphMiner) post(node map[string]any) (model.Post, bool) {
	p := model.Post{
		ID:        textOf(node["id"]),
		Content:   textOf(node["message"]),
		Timestamp: FormatTime(m.now),
		URL:       textOf(node["url"]),
		Type:      TypeGraph,
	}
	if p.Content == "" {
		p.Content = textOf(node["story"])
	}
	if p.ID == "" {
		p.ID = fmt.Sprintf("graphql_%d_%d", m.now.UnixMilli(), len(m.posts))
	}
	if p.URL == "" {
		p.URL = textOf(node["permalink_url"])
	}
	if author, ok := node["author"].(map[string]any); ok {
		p.Author = textOf(author["name"])
	}
	if sec, ok := node["created_time"].(float64); ok && sec > 0 {
		p.Timestamp = FormatTime(time.Unix(int64(sec), 0))
	}
	return p, p.Content != "" || p.Author != ""
}

// textOf returns a string field, also accepting the {"text": "..."} wrapper
// used for rich text.
func textOf(v any) string {
	switch v := v.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
