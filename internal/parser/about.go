package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	ErrNoAboutElement = errors.New("no p containing a version found")
	ErrNoCommitLink   = errors.New("no a element found")
	ErrNoValidHref    = errors.New("no valid href")
)

// A version is either a x.y.z release or a commit hash of at least 7 chars.
var versionRe = regexp.MustCompile(`(?i)^((\d+\.\d+\.\d+)|[a-zA-Z0-9]{7,})`)

// About is the version information of a nitter about page.
type About struct {
	// Version is the text of the version link, a release or commit id.
	Version string
	// URL is the link target, usually an upstream commit URL.
	URL string
}

// ParseAbout extracts the running version from an about page. The version is
// the first link inside the first paragraph mentioning "Version".
func ParseAbout(html string) (About, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return About{}, fmt.Errorf("parsing about html: %w", err)
	}

	var p *goquery.Selection
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(s.Text(), "Version") {
			p = s
			return false
		}
		return true
	})
	if p == nil {
		return About{}, ErrNoAboutElement
	}

	link := p.Find("a").First()
	if link.Length() == 0 {
		return About{}, ErrNoCommitLink
	}
	href, ok := link.Attr("href")
	if !ok {
		return About{}, ErrNoValidHref
	}
	text := link.Text()
	if !versionRe.MatchString(text) {
		return About{}, fmt.Errorf("invalid version format %q", text)
	}

	return About{Version: text, URL: strings.TrimSpace(href)}, nil
}
