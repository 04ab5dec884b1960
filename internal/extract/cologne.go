package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/scentfinder-crawler/internal/crawler"
)

// Captions that select the note layout.
const (
	captionFlat    = "Fragrance Notes"
	captionPyramid = "Perfume Pyramid"
)

const (
	xpTitle    = "//title"
	xpAccords  = "//div[@class='cell accord-bar']//text()"
	xpCaptions = "//div[@class='strike-title']//text()"
	xpFlat     = "//div[@class='text-center notes-box']/following-sibling::div[1]//div[a]//text()"
	xpVotes    = "//div[@class='cell small-1 medium-1 large-1']"
	xpTier     = "//h4[normalize-space()='%s']/following-sibling::div[1]//div[a]//text()"
)

// Cologne parses a cologne page. Brand and name come from the URL path; the
// vote table must have at least crawler.VoteCells cells.
func Cologne(raw []byte, pageURL string) (crawler.CologneCandidate, error) {
	brand, name, err := brandAndName(pageURL)
	if err != nil {
		return crawler.CologneCandidate{}, err
	}
	doc, err := htmlquery.Parse(bytes.NewReader(raw))
	if err != nil {
		return crawler.CologneCandidate{}, fmt.Errorf("parse html: %w", err)
	}

	votes, err := crawler.NewVoteTable(voteCells(doc))
	if err != nil {
		return crawler.CologneCandidate{}, err
	}

	var year *int
	if title := htmlquery.FindOne(doc, xpTitle); title != nil {
		year = launchYear(htmlquery.InnerText(title))
	}

	return crawler.CologneCandidate{
		Name:       name,
		Brand:      brand,
		LaunchYear: year,
		Accords:    texts(doc, xpAccords),
		Notes:      noteLayout(doc),
		Votes:      votes,
		URL:        pageURL,
	}, nil
}

// brandAndName reads /perfume/{Brand-Name}/{Title-Words-ID}.html.
func brandAndName(pageURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	var segments []string
	for _, s := range strings.Split(u.Path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	if len(segments) < 2 {
		return "", "", fmt.Errorf("%w: %s", ErrMalformedURL, pageURL)
	}
	brandSeg, titleSeg := segments[len(segments)-2], segments[len(segments)-1]
	if unescaped, err := url.PathUnescape(brandSeg); err == nil {
		brandSeg = unescaped
	}
	if unescaped, err := url.PathUnescape(titleSeg); err == nil {
		titleSeg = unescaped
	}

	brand := strings.ReplaceAll(brandSeg, "-", " ")
	words := strings.Split(strings.TrimSuffix(titleSeg, ".html"), "-")
	if len(words) > 1 {
		if _, err := strconv.Atoi(words[len(words)-1]); err == nil {
			words = words[:len(words)-1]
		}
	}
	name := strings.Join(words, " ")
	if strings.TrimSpace(brand) == "" || strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%w: %s", ErrMalformedURL, pageURL)
	}
	return brand, name, nil
}

// launchYear returns the last four characters of title as a year, or nil
// when they are not a positive four-digit integer.
func launchYear(title string) *int {
	runes := []rune(strings.TrimSpace(title))
	if len(runes) < 4 {
		return nil
	}
	year, err := strconv.Atoi(string(runes[len(runes)-4:]))
	if err != nil || year < 1000 || year > 9999 {
		return nil
	}
	return &year
}

// noteLayout picks the layout named by the page captions. Flat wins when
// both captions appear.
func noteLayout(doc *html.Node) crawler.NoteLayout {
	captions := texts(doc, xpCaptions)
	switch {
	case contains(captions, captionFlat):
		return crawler.FlatNotes{Notes: texts(doc, xpFlat)}
	case contains(captions, captionPyramid):
		return crawler.PyramidNotes{
			Top:    texts(doc, fmt.Sprintf(xpTier, "Top Notes")),
			Middle: texts(doc, fmt.Sprintf(xpTier, "Middle Notes")),
			Base:   texts(doc, fmt.Sprintf(xpTier, "Bottom Notes")),
		}
	default:
		return nil
	}
}

// voteCells reads every vote cell; anything that is not an integer is 0.
func voteCells(doc *html.Node) []int {
	nodes := htmlquery.Find(doc, xpVotes)
	cells := make([]int, 0, len(nodes))
	for _, n := range nodes {
		cells = append(cells, atoiOrZero(htmlquery.InnerText(n)))
	}
	return cells
}

func atoiOrZero(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// texts evaluates expr and returns the trimmed, non-empty text of each
// distinct result node in document order.
func texts(doc *html.Node, expr string) []string {
	nodes := htmlquery.Find(doc, expr)
	seen := make(map[*html.Node]struct{}, len(nodes))
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		if t := collapse(htmlquery.InnerText(n)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
