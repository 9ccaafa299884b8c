// Package parser extracts structured data from the HTML pages the scanner
// probes: the wiki instance list, nitter profile pages and about pages.
package parser

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const onlineCheckbox = "✅"

var (
	ErrNoWikiDiv       = errors.New("no div #wiki-body found")
	ErrNoInstanceTable = errors.New("no table found containing instances")
	ErrMalformedRow    = errors.New("malformed instance table row")
)

// Instance is one row of the wiki instance list.
type Instance struct {
	// Domain is the URL's host without any credentials.
	Domain string
	// URL is the connection URL as listed.
	URL string
	// Online reports whether the wiki marks the instance as up.
	Online bool
	// SSLProvider is the certificate issuer column.
	SSLProvider string
	// Country is the hosting country column.
	Country string
}

// ParseInstanceList extracts all instances from the rendered wiki page.
// Additional hosts are merged in afterwards without overriding parsed rows'
// domains that already exist. abortOnErr turns a malformed row into a hard
// error instead of skipping it, for tests.
func ParseInstanceList(html string, additionalHosts []string, additionalHostCountry string, abortOnErr bool) (map[string]Instance, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parsing instance list html: %w", err)
	}

	wiki := doc.Find(`div#wiki-body`).First()
	if wiki.Length() == 0 {
		return nil, ErrNoWikiDiv
	}

	var table *goquery.Selection
	wiki.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		if strings.Contains(t.Text(), "Online") {
			table = t
			return false
		}
		return true
	})
	if table == nil {
		return nil, ErrNoInstanceTable
	}

	instances := make(map[string]Instance, 50)
	var rowErr error
	table.Find("tbody > tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		instance, err := parseRow(row)
		if err != nil {
			if abortOnErr {
				rowErr = err
				return false
			}
			return true
		}
		if _, dup := instances[instance.Domain]; dup {
			log.Printf("[InstanceList] parsed duplicate instance domain %q", instance.Domain)
		}
		instances[instance.Domain] = instance
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}

	for _, entry := range additionalHosts {
		parsed, err := url.Parse(entry)
		if err != nil || parsed.Hostname() == "" {
			log.Printf("[InstanceList] ignoring additional instance %q: %v", entry, err)
			continue
		}
		domain := parsed.Hostname()
		instances[domain] = Instance{
			Domain:  domain,
			URL:     entry,
			Online:  true,
			Country: additionalHostCountry,
		}
	}

	return instances, nil
}

func parseRow(row *goquery.Selection) (Instance, error) {
	cols := row.Find("td")
	if cols.Length() == 0 {
		log.Printf("[InstanceList] instance row missing URL column, skipping")
		return Instance{}, ErrMalformedRow
	}

	href, ok := cols.First().Find("a").First().Attr("href")
	if !ok {
		log.Printf("[InstanceList] instance row missing valid URL <a> element, skipping")
		return Instance{}, ErrMalformedRow
	}
	rawURL := strings.TrimSuffix(strings.TrimSpace(href), "/")

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		log.Printf("[InstanceList] instance URL %q is not valid", rawURL)
		return Instance{}, ErrMalformedRow
	}

	rest := cols.Slice(1, cols.Length())
	if rest.Length() < 4 {
		log.Printf("[InstanceList] instance row for %q missing fields, skipping", rawURL)
		return Instance{}, ErrMalformedRow
	}
	col := func(i int) string { return rest.Eq(i).Text() }

	return Instance{
		Domain:      parsed.Hostname(),
		URL:         rawURL,
		Online:      col(0) == onlineCheckbox,
		Country:     col(2),
		SSLProvider: col(3),
	}, nil
}
