package reddit

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lukman83/watchfinder/internal/extract"
)

// listing is the envelope of both feed pages and comment threads.
type listing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	CreatedUTC    float64 `json:"created_utc"`
	LinkFlairText string  `json:"link_flair_text"`
	IsGallery     bool    `json:"is_gallery"`
	Preview       struct {
		Images []struct {
			Source struct {
				URL string `json:"url"`
			} `json:"source"`
		} `json:"images"`
	} `json:"preview"`
	MediaMetadata map[string]struct {
		Status string `json:"status"`
		S      struct {
			U string `json:"u"`
		} `json:"s"`
	} `json:"media_metadata"`
	GalleryData *struct {
		Items []struct {
			MediaID string `json:"media_id"`
		} `json:"items"`
	} `json:"gallery_data"`
}

type comment struct {
	Author        string `json:"author"`
	Body          string `json:"body"`
	Distinguished string `json:"distinguished"`
}

func (p *post) created() *time.Time {
	if p.CreatedUTC <= 0 {
		return nil
	}
	sec := int64(p.CreatedUTC)
	t := time.Unix(sec, int64((p.CreatedUTC-float64(sec))*1e9)).UTC()
	return &t
}

// wantedFlair marks buyer posts the title did not already give away.
func wantedFlair(flair string) bool {
	f := strings.ToUpper(flair)
	return strings.Contains(f, "WTB") || strings.Contains(f, "ISO")
}

var imageExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp)(\?.*)?$`)

// pickImage resolves a post's photo: a direct image link, an imgur page,
// the preview image, then the first valid gallery item.
func pickImage(p *post) string {
	if u := p.URL; u != "" {
		if imageExt.MatchString(u) {
			return u
		}
		if strings.Contains(u, "imgur.com") && !strings.HasSuffix(u, ".html") {
			if last := u[strings.LastIndex(u, "/")+1:]; !strings.Contains(last, ".") {
				return u + ".jpg"
			}
			return u
		}
	}
	if len(p.Preview.Images) > 0 {
		if src := p.Preview.Images[0].Source.URL; src != "" {
			return unescapeAmp(src)
		}
	}
	if p.IsGallery && p.GalleryData != nil {
		for _, item := range p.GalleryData.Items {
			m, ok := p.MediaMetadata[item.MediaID]
			if item.MediaID == "" || !ok || m.Status != "valid" || m.S.U == "" {
				continue
			}
			return unescapeAmp(m.S.U)
		}
	}
	return ""
}

func unescapeAmp(s string) string { return strings.ReplaceAll(s, "&amp;", "&") }

// bestComment picks the comment most likely to hold the listing details.
// The original poster's comments win over everyone else's; within the
// chosen group the longest one quoting a price wins, else the longest.
func bestComment(comments []comment, op string) string {
	var fromOP, others []string
	for _, c := range comments {
		switch c.Body {
		case "", "[deleted]", "[removed]":
			continue
		}
		if strings.EqualFold(c.Author, "automoderator") || c.Distinguished == "moderator" {
			continue
		}
		if op != "" && strings.EqualFold(c.Author, op) {
			fromOP = append(fromOP, c.Body)
		}
		others = append(others, c.Body)
	}

	candidates := others
	if len(fromOP) > 0 {
		candidates = fromOP
	}
	var priced []string
	for _, b := range candidates {
		if extract.HasPriceCandidate(b) {
			priced = append(priced, b)
		}
	}
	if len(priced) > 0 {
		return longest(priced)
	}
	return longest(candidates)
}

// longest returns the first of the longest strings, counted in runes.
func longest(ss []string) string {
	best, bestLen := "", -1
	for _, s := range ss {
		if n := utf8.RuneCountInString(s); n > bestLen {
			best, bestLen = s, n
		}
	}
	return best
}
