package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// fieldStrategy tries to read one field from a node; ok=false passes to the next.
type fieldStrategy[T any] func(sel *goquery.Selection) (T, bool)

func firstOf[T any](sel *goquery.Selection, strategies []fieldStrategy[T]) (T, bool) {
	for _, strategy := range strategies {
		if v, ok := strategy(sel); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

var (
	noiseRegex = regexp.MustCompile(`(?i)\b(?:most relevant|più pertinenti|più rilevanti|les plus pertinents|relevanteste|más relevantes|sponsored|promoted|annuncio)\b`)

	nameCutters = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btrust\s*score\b`),
		regexp.MustCompile(`(?i)\brated\s+\d`),
		regexp.MustCompile(`\b[0-5](?:[.,]\d)?\s*(?:/\s*5|stars?|stelle|★)`),
		regexp.MustCompile(`(?i)\d[\d.,]*\s*(?:reviews?|recensioni|avis|bewertungen|opiniones|opinions?)\b`),
		regexp.MustCompile(`(?i)\b(?:via|viale|piazza|corso|strada)\s+\p{L}`),
		regexp.MustCompile(`\d+\s+[A-Za-z\s]+(?:Street|Avenue|Road|Boulevard|Lane|Drive)\b`),
		regexp.MustCompile(`[|•·]`),
	}

	ratingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)rated\s+(\d(?:[.,]\d+)?)\s+out\s+of\s+5`),
		regexp.MustCompile(`(?i)trust\s*score\s*:?\s*(\d(?:[.,]\d+)?)`),
		regexp.MustCompile(`(\d(?:[.,]\d+)?)\s*(?:/\s*5|out\s+of\s+5|stars?|stelle|★)`),
		regexp.MustCompile(`(?i)(?:rating|valutazione|note)\s*:?\s*(\d(?:[.,]\d+)?)`),
	}

	reviewCountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(\d[\d.,]*)\s*(?:reviews?|recensioni|avis|bewertungen|opiniones|opinions?)\b`),
		regexp.MustCompile(`(?i)based\s+on\s+(\d[\d.,]*)`),
	}
)

const (
	minNameLength = 3
	unknownName   = "unknown"
)

// CleanName strips UI noise and truncates trailing rating, review or address
// fragments. It returns "" when no usable name remains.
func CleanName(raw string) string {
	name := CleanText(noiseRegex.ReplaceAllString(raw, " "))
	cut := len(name)
	for _, re := range nameCutters {
		if loc := re.FindStringIndex(name); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
	}
	name = strings.Trim(CleanText(name[:cut]), " ,;:-")
	if utf8.RuneCountInString(name) < minNameLength || strings.EqualFold(name, unknownName) {
		return ""
	}
	return name
}

func selectorText(selectors ...string) fieldStrategy[string] {
	return func(sel *goquery.Selection) (string, bool) {
		for _, selector := range selectors {
			var found string
			sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				found = spacedText(s)
				return found == ""
			})
			if found != "" {
				return found, true
			}
		}
		return "", false
	}
}

func selectorAttr(attr string, selectors ...string) fieldStrategy[string] {
	return func(sel *goquery.Selection) (string, bool) {
		for _, selector := range selectors {
			if v, ok := sel.Find(selector).First().Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
		return "", false
	}
}

func cleanedName(source fieldStrategy[string]) fieldStrategy[string] {
	return func(sel *goquery.Selection) (string, bool) {
		raw, ok := source(sel)
		if !ok {
			return "", false
		}
		name := CleanName(raw)
		return name, name != ""
	}
}

func ratingFrom(source fieldStrategy[string]) fieldStrategy[float64] {
	return func(sel *goquery.Selection) (float64, bool) {
		raw, ok := source(sel)
		if !ok {
			return 0, false
		}
		if v, ok := ParseRating(raw); ok {
			return v, true
		}
		return RatingFromText(raw)
	}
}

func reviewCountFrom(source fieldStrategy[string]) fieldStrategy[int] {
	return func(sel *goquery.Selection) (int, bool) {
		raw, ok := source(sel)
		if !ok {
			return 0, false
		}
		if n, ok := ParseReviewCount(raw); ok {
			return n, true
		}
		return ReviewCountFromText(raw)
	}
}

// RatingFromText finds a labelled rating in free text.
func RatingFromText(text string) (float64, bool) {
	for _, re := range ratingPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := ParseRating(m[1]); ok {
				return v, true
			}
		}
	}
	return 0, false
}

// ReviewCountFromText finds a labelled review count in free text.
func ReviewCountFromText(text string) (int, bool) {
	for _, re := range reviewCountPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if n, ok := ParseReviewCount(m[1]); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func containerText(sel *goquery.Selection) (string, bool) {
	text := spacedText(sel)
	return text, text != ""
}

// spacedText joins text nodes with spaces, skipping script and style bodies.
func spacedText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		collectText(n, &b)
	}
	return CleanText(b.String())
}

func collectText(n *html.Node, b *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "template":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

var (
	cardNameStrategies = []fieldStrategy[string]{
		cleanedName(selectorText(
			`[data-testid="business-unit-name"]`,
			`[class*="displayName"]`,
			`[class*="businessUnitName"]`,
			`[class*="company-name"]`,
			`[itemprop="name"]`,
		)),
		cleanedName(selectorAttr("alt", `img[alt]`)),
		cleanedName(selectorText(`h2`, `h3`, `h4`, `p[class*="heading"]`)),
		cleanedName(selectorText(`a[href*="/review/"]`)),
	}

	cardRatingStrategies = []fieldStrategy[float64]{
		ratingFrom(selectorAttr("data-rating", `[data-rating]`)),
		ratingFrom(selectorAttr("data-trust-score", `[data-trust-score]`)),
		ratingFrom(selectorAttr("content", `[itemprop="ratingValue"]`)),
		ratingFrom(selectorAttr("alt", `img[alt*="out of 5"]`, `img[alt*="Rated"]`)),
		ratingFrom(selectorText(`[data-rating-typography]`, `[class*="trustScore"]`, `[class*="rating"]`)),
		ratingFrom(containerText),
	}

	cardReviewStrategies = []fieldStrategy[int]{
		reviewCountFrom(selectorAttr("data-review-count", `[data-review-count]`)),
		reviewCountFrom(selectorAttr("content", `[itemprop="reviewCount"]`)),
		reviewCountFrom(selectorText(`[class*="reviewCount"]`, `[class*="reviewsCount"]`, `[class*="reviews"]`)),
		reviewCountFrom(containerText),
	}

	locationStrategies = []fieldStrategy[string]{
		selectorText(`address`),
		selectorText(`[data-testid="business-unit-location"]`, `[class*="location"]`, `[class*="address"]`),
		selectorText(`[itemprop="address"]`),
	}

	categoryStrategies = []fieldStrategy[string]{
		selectorText(`[data-testid="business-unit-category"]`, `[class*="categories"] a`, `[class*="category"]`),
	}
)
