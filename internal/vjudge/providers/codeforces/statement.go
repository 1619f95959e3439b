package codeforces

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"vjudge/internal/vjudge/model"
	"vjudge/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	titlePrefix = regexp.MustCompile(`^[A-Z][0-9]?\.\s*`)
	numberValue = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)
)

// GetProblem downloads one statement. A problem the site does not serve returns nil.
func (p *Provider) GetProblem(ctx context.Context, id string, meta model.ProblemMeta) (*model.ProblemData, error) {
	contest, index, err := splitProblemID(id)
	if err != nil {
		return nil, err
	}
	resp, err := p.f.Get(ctx, fmt.Sprintf("/problemset/problem/%s/%s", contest, index), nil)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !resp.OK() {
		return nil, fmt.Errorf("get problem %s: status %d", id, resp.StatusCode)
	}
	doc, err := html.Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse problem %s failed: %w", id, err)
	}
	stmt := findFirst(doc, withClass(atom.Div, "problem-statement"))
	if stmt == nil {
		// Missing problems redirect to the problemset index.
		logger.Debug(ctx, "codeforces statement not found", zap.String("problem", id), zap.String("url", resp.URL.String()))
		return nil, nil
	}

	data := &model.ProblemData{Files: map[string][]byte{}}
	if header := findFirst(stmt, withClass(atom.Div, "header")); header != nil {
		if title := findFirst(header, withClass(atom.Div, "title")); title != nil {
			data.Title = titlePrefix.ReplaceAllString(strings.TrimSpace(textOf(title)), "")
		}
		data.TimeLimitMs = limitValue(header, "time-limit", 1000)
		data.MemoryLimitMB = limitValue(header, "memory-limit", 1)
	}
	if data.Title == "" {
		data.Title = id
	}

	images := p.collectImages(ctx, stmt, resp.URL, data.Files)
	var content bytes.Buffer
	for c := stmt.FirstChild; c != nil; c = c.NextSibling {
		if hasClass(c, "header") {
			continue
		}
		if err := html.Render(&content, c); err != nil {
			return nil, fmt.Errorf("render problem %s failed: %w", id, err)
		}
	}
	data.Content = strings.TrimSpace(content.String())

	for _, tag := range findAll(doc, withClass(atom.Span, "tag-box")) {
		name := strings.TrimSpace(textOf(tag))
		if strings.HasPrefix(name, "*") {
			if rating, err := strconv.Atoi(strings.TrimPrefix(name, "*")); err == nil {
				data.Difficulty = difficultyOf(rating)
			}
			continue
		}
		if name != "" {
			data.Tags = append(data.Tags, name)
		}
	}
	logger.Debug(ctx, "codeforces problem fetched", zap.String("problem", id), zap.Int("images", images))
	return data, nil
}

// collectImages downloads statement images into files and points their src at the stored name.
func (p *Provider) collectImages(ctx context.Context, stmt *html.Node, page *url.URL, files map[string][]byte) int {
	n := 0
	for _, img := range findAll(stmt, func(node *html.Node) bool { return node.DataAtom == atom.Img }) {
		src := attr(img, "src")
		if src == "" || strings.HasPrefix(src, "data:") {
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		abs := page.ResolveReference(ref)
		name := path.Base(abs.Path)
		if name == "." || name == "/" {
			continue
		}
		if _, ok := files[name]; !ok {
			resp, err := p.f.Get(ctx, abs.String(), nil)
			if err != nil || !resp.OK() {
				logger.Warn(ctx, "download statement image failed", zap.String("src", abs.String()), zap.Error(err))
				continue
			}
			files[name] = resp.Body
			n++
		}
		setAttr(img, "src", "file://"+name)
	}
	return n
}

// limitValue reads "time limit per test 2 seconds" style blocks, scaled by unit.
func limitValue(header *html.Node, class string, unit float64) int64 {
	node := findFirst(header, withClass(atom.Div, class))
	if node == nil {
		return 0
	}
	text := textOf(node)
	if title := findFirst(node, withClass(atom.Div, "property-title")); title != nil {
		text = strings.TrimPrefix(text, textOf(title))
	}
	v, err := strconv.ParseFloat(numberValue.FindString(text), 64)
	if err != nil {
		return 0
	}
	return int64(v * unit)
}

// difficultyOf maps a problem rating (800..3500) onto 1..10.
func difficultyOf(rating int) int {
	d := (rating-800)/300 + 1
	if d < 1 {
		return 1
	}
	if d > 10 {
		return 10
	}
	return d
}

// findFieldError returns the text of the form error attached to field, if any.
func findFieldError(page, field string) string {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return ""
	}
	node := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && hasClass(n, "error") && hasClass(n, "for__"+field)
	})
	if node == nil {
		return ""
	}
	return strings.TrimSpace(textOf(node))
}

func withClass(a atom.Atom, class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == a && hasClass(n, class)
	}
}

func findFirst(root *html.Node, match func(*html.Node) bool) *html.Node {
	if match(root) {
		return root
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := findFirst(c, match); n != nil {
			return n
		}
	}
	return nil
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, class string) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
