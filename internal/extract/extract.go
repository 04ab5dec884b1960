// Package extract turns fetched pages into note and cologne candidates.
//
// Note pages and listing links are read with goquery; cologne pages need
// heading-anchored sibling lookups and are read with XPath via htmlquery.
package extract

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// ErrMalformedURL rejects cologne URLs whose path lacks brand and title.
var ErrMalformedURL = errors.New("cologne url lacks brand and title segments")

// Extract parses html as a page of the given category.
func Extract(html []byte, category crawler.Category, pageURL string) (crawler.Candidate, error) {
	switch category {
	case crawler.CategoryNotes:
		note, err := Note(html, pageURL)
		if err != nil {
			return crawler.Candidate{}, &crawler.ParseError{URL: pageURL, Category: category, Err: err}
		}
		return crawler.Candidate{Note: &note}, nil
	case crawler.CategoryColognes:
		cologne, err := Cologne(html, pageURL)
		if err != nil {
			return crawler.Candidate{}, &crawler.ParseError{URL: pageURL, Category: category, Err: err}
		}
		return crawler.Candidate{Cologne: &cologne}, nil
	default:
		return crawler.Candidate{}, &crawler.ParseError{
			URL:      pageURL,
			Category: category,
			Err:      fmt.Errorf("unsupported category %q", category),
		}
	}
}
