package forum

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/lukman83/watchfinder/internal/models"
	"github.com/lukman83/watchfinder/internal/platform"
	"golang.org/x/net/html"
)

var (
	threadClass = regexp.MustCompile(`title|thread`)
	authorClass = regexp.MustCompile(`username|author`)
	dateClass   = regexp.MustCompile(`date|time`)
	postTableID = regexp.MustCompile(`^post(\d+)`)
	imageDeny   = regexp.MustCompile(`(?i)smilie|smiley|icon|avatar|emoji|pixel|spacer|logo|btn|button`)
)

const minImageSize = 80

// parseIndex reads thread stubs from a forum listing page. Markup varies
// between vBulletin versions, so three layouts are tried.
func parseIndex(body []byte, base *url.URL) ([]models.Stub, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	var stubs []models.Stub
	add := func(a *goquery.Selection, seller, date string) {
		href, _ := a.Attr("href")
		if href == "" {
			return
		}
		stubs = append(stubs, models.Stub{
			URL:    resolve(base, href),
			Title:  strings.TrimSpace(a.Text()),
			Seller: seller,
			Date:   date,
		})
	}

	// vBulletin 3/4
	doc.Find(`a[id^="thread_title_"]`).Each(func(_ int, a *goquery.Selection) {
		add(a, "", "")
	})

	// vBulletin 5
	doc.Find("li.threadbit, div.threadbit").Each(func(_ int, item *goquery.Selection) {
		a := firstClassMatch(item.Find("a"), threadClass)
		if a == nil {
			if a = item.Find(`a[href*="showthread"]`).First(); a.Length() == 0 {
				return
			}
		}
		add(a, textOfFirst(item.Find("*"), authorClass), textOfFirst(item.Find("*"), dateClass))
	})

	if len(stubs) == 0 {
		doc.Find("a.title, a.threadtitle").Each(func(_ int, a *goquery.Selection) {
			if href, _ := a.Attr("href"); strings.Contains(href, "showthread") {
				add(a, "", "")
			}
		})
	}
	return dedupe(stubs), nil
}

type thread struct {
	Body   string
	Image  string
	Seller string
}

// parseThread extracts the opening post. vBulletin 3 numbers each post:
// table#post<ID> wraps it, div#post_message_<ID> holds the text and
// td#td_post_<ID> also holds the attachments.
func parseThread(body []byte, base *url.URL, pageURL string) (thread, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return thread{}, fmt.Errorf("parse thread: %w", err)
	}

	var postTable, post, tdPost *goquery.Selection
	doc.Find(`table[id^="post"]`).EachWithBreak(func(_ int, t *goquery.Selection) bool {
		id, _ := t.Attr("id")
		m := postTableID.FindStringSubmatch(id)
		if m == nil {
			return true
		}
		postTable = t
		post = nonEmpty(doc.Find("div#post_message_" + m[1]))
		tdPost = nonEmpty(doc.Find("td#td_post_" + m[1]))
		return false
	})
	if post == nil {
		for _, sel := range []string{"blockquote.postcontent", "div.postbody", "div.post-content"} {
			if post = nonEmpty(doc.Find(sel).First()); post != nil {
				break
			}
		}
	}

	var t thread
	if post != nil {
		t.Body = textOf(post)
	} else {
		t.Body = readableText(body, pageURL)
	}
	if t.Body == "" {
		return thread{}, platform.ErrMalformed
	}

	var scope *goquery.Selection
	for _, s := range []*goquery.Selection{tdPost, postTable, doc.Selection} {
		if s != nil && s.Find("img").Length() > 0 {
			scope = s
			break
		}
	}
	if scope != nil {
		t.Image = pickImage(scope.Find("img"), base)
	}
	t.Seller = textOfFirst(doc.Find("*"), authorClass)
	return t, nil
}

// readableText is the last resort for layouts with no known post markup.
func readableText(body []byte, pageURL string) string {
	u, _ := url.Parse(pageURL)
	article, err := readability.FromReader(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	return strings.Join(strings.Fields(article.TextContent), " ")
}

// pickImage returns the first image that looks like a listing photo.
func pickImage(imgs *goquery.Selection, base *url.URL) string {
	var found string
	imgs.EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := firstAttr(img, "src", "data-src", "data-lazy-src")
		if src == "" || imageDeny.MatchString(src) {
			return true
		}
		if tooSmall(img.AttrOr("width", "")) || tooSmall(img.AttrOr("height", "")) {
			return true
		}
		switch {
		case strings.HasPrefix(src, "http"):
		case strings.HasPrefix(src, "/"):
			src = resolve(base, src)
		case strings.HasPrefix(src, "attachment.php"):
			src = strings.TrimSuffix(base.String(), "/") + "/" + src
		default:
			return true
		}
		found = src
		return false
	})
	return found
}

// tooSmall reads a declared pixel size; values like "100%" never disqualify.
func tooSmall(v string) bool {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	return err == nil && n < minImageSize
}

var dateLayouts = []string{"01-02-2006, 03:04 PM", "01-02-2006", "Jan 2, 2006", "2006-01-02"}

// parseDate understands absolute vBulletin dates; relative ones such as
// "Today" are left unset.
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func dedupe(stubs []models.Stub) []models.Stub {
	seen := make(map[string]bool, len(stubs))
	out := stubs[:0]
	for _, s := range stubs {
		if seen[s.URL] {
			continue
		}
		seen[s.URL] = true
		out = append(out, s)
	}
	return out
}

func firstAttr(s *goquery.Selection, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(s.AttrOr(n, "")); v != "" {
			return v
		}
	}
	return ""
}

func nonEmpty(s *goquery.Selection) *goquery.Selection {
	if s.Length() == 0 {
		return nil
	}
	return s.First()
}

// firstClassMatch returns the first element with a class token matching re.
func firstClassMatch(s *goquery.Selection, re *regexp.Regexp) *goquery.Selection {
	var found *goquery.Selection
	s.EachWithBreak(func(_ int, el *goquery.Selection) bool {
		for _, c := range strings.Fields(el.AttrOr("class", "")) {
			if re.MatchString(c) {
				found = el
				return false
			}
		}
		return true
	})
	return found
}

func textOfFirst(s *goquery.Selection, re *regexp.Regexp) string {
	if el := firstClassMatch(s, re); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

// textOf joins the trimmed text nodes under s with single spaces.
func textOf(s *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
