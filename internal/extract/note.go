package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Note parses a note page. The title is required; group and description
// default to empty.
func Note(html []byte, pageURL string) (crawler.NoteCandidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.NoteCandidate{}, fmt.Errorf("parse html: %w", err)
	}

	name := collapse(doc.Find("h1").First().Text())
	if name == "" {
		return crawler.NoteCandidate{}, crawler.ErrMissingTitle
	}
	return crawler.NoteCandidate{
		Name:        name,
		Group:       collapse(doc.Find("h3 b").First().Text()),
		Description: collapse(doc.Find("div.cell.callout p").First().Text()),
		URL:         pageURL,
	}, nil
}

// collapse trims s and folds internal whitespace runs to single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
