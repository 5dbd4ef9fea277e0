// Package extract turns listing and detail pages into company records using a
// cascade of goquery selector strategies and regex field miners.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// DefaultReviewLimit caps records per page when settings carry no limit.
const DefaultReviewLimit = 50

// PageKind distinguishes listing pages from single-business detail pages.
type PageKind int

const (
	// PageListing holds many business cards.
	PageListing PageKind = iota
	// PageDetail describes one business.
	PageDetail
)

// ClassifyURL reports the page kind implied by a URL.
func ClassifyURL(rawURL string) PageKind {
	if strings.Contains(rawURL, "/review/") {
		return PageDetail
	}
	return PageListing
}

// Engine extracts companies from HTML. It never returns errors; malformed
// input yields empty results and a debug log line.
type Engine struct {
	logger *zap.Logger
}

// New constructs an Engine.
func New(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// ExtractListing runs the listing cascade and returns de-duplicated records,
// truncated to settings.ReviewLimit.
func (e *Engine) ExtractListing(html, sourceURL string, settings crawler.Settings) (companies []crawler.Company) {
	defer e.recoverPanic(sourceURL, &companies)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.anomaly(sourceURL)(fmt.Errorf("%w: parse html: %v", crawler.ErrExtractionAnomaly, err))
		return nil
	}
	limit := settings.ReviewLimit
	if limit <= 0 {
		limit = DefaultReviewLimit
	}
	for _, strategy := range listingStrategies {
		drafts, matched := strategy.run(doc, sourceURL, e.anomaly(sourceURL))
		if !matched {
			continue
		}
		companies = Finalize(drafts, limit)
		metrics.ObserveExtraction(strategy.name, len(companies))
		e.logger.Debug("listing extracted",
			zap.String("url", sourceURL),
			zap.String("strategy", strategy.name),
			zap.Int("candidates", len(drafts)),
			zap.Int("records", len(companies)),
		)
		return companies
	}
	e.logger.Debug("no listing strategy matched", zap.String("url", sourceURL))
	return nil
}

// ExtractDetail reads a single-business page. ok is false when no valid name
// could be found.
func (e *Engine) ExtractDetail(html, sourceURL string) (company crawler.Company, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("detail extraction panicked", zap.String("url", sourceURL), zap.Any("panic", r))
			company, ok = crawler.Company{}, false
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		e.anomaly(sourceURL)(fmt.Errorf("%w: parse html: %v", crawler.ErrExtractionAnomaly, err))
		return crawler.Company{}, false
	}
	if units := embeddedPayloads(doc.Selection, e.anomaly(sourceURL)); len(units) > 0 {
		company = companyFromUnit(units[0], sourceURL)
		company.Name = CleanName(company.Name)
	}
	company.SourceURL = sourceURL
	root := doc.Selection
	if company.Name == "" {
		company.Name, _ = firstOf(root, detailNameStrategies)
	}
	if company.Rating == nil {
		if rating, found := firstOf(root, detailRatingStrategies); found {
			company.Rating = &rating
		}
	}
	if company.ReviewCount == nil {
		if count, found := firstOf(root, detailReviewStrategies); found {
			company.ReviewCount = &count
		}
	}
	if company.Address == "" || company.City == "" {
		if location, found := firstOf(root, locationStrategies); found {
			address, city := splitLocation(location)
			company.Address = firstNonEmpty(company.Address, address)
			company.City = firstNonEmpty(company.City, city)
		}
	}
	text := spacedText(doc.Find("body"))
	if company.Address == "" {
		company.Address = ExtractAddress(text)
	}
	if company.City == "" && company.Address != "" {
		company.City = ExtractCity(company.Address)
	}
	mineContacts(&company, root, text)
	if company.Type == "" {
		company.Type, _ = firstOf(root, categoryStrategies)
	}
	if company.Description == "" {
		company.Description, _ = firstOf(root, descriptionStrategies)
	}
	if company.Website == "" {
		company.Website = outboundWebsite(doc, sourceURL)
	}
	if company.Domain == "" {
		company.Domain = ExtractDomain(sourceURL)
	}
	if company.Name == "" {
		e.logger.Debug("detail page without a usable name", zap.String("url", sourceURL))
		return crawler.Company{}, false
	}
	company.Status = crawler.CompanyStatusComplete
	metrics.ObserveExtraction("detail", 1)
	return company, true
}

// Finalize drops nameless drafts, marks records complete, de-duplicates by
// case-insensitive name (first wins) and truncates to limit.
func Finalize(drafts []crawler.Company, limit int) []crawler.Company {
	out := make([]crawler.Company, 0, len(drafts))
	seen := make(map[string]struct{}, len(drafts))
	for _, company := range drafts {
		if company.Name == "" {
			continue
		}
		key := company.NameKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		company.Status = crawler.CompanyStatusComplete
		out = append(out, company)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (e *Engine) anomaly(sourceURL string) func(error) {
	return func(err error) {
		e.logger.Debug("extraction anomaly skipped", zap.String("url", sourceURL), zap.Error(err))
	}
}

func (e *Engine) recoverPanic(sourceURL string, companies *[]crawler.Company) {
	if r := recover(); r != nil {
		e.logger.Warn("listing extraction panicked", zap.String("url", sourceURL), zap.Any("panic", r))
		*companies = nil
	}
}

var (
	detailNameStrategies = []fieldStrategy[string]{
		cleanedName(selectorText(
			`h1 [class*="displayName"]`,
			`[data-testid="business-unit-name"]`,
			`[itemprop="name"]`,
			`h1`,
		)),
		cleanedName(selectorAttr("content", `meta[property="og:title"]`)),
		cleanedName(selectorText(`title`)),
	}

	detailRatingStrategies = []fieldStrategy[float64]{
		ratingFrom(selectorAttr("data-rating", `[data-rating]`)),
		ratingFrom(selectorAttr("content", `[itemprop="ratingValue"]`)),
		ratingFrom(selectorText(`[data-rating-typography]`, `[class*="trustScore"]`, `[data-testid="rating"]`)),
		ratingFrom(selectorAttr("alt", `img[alt*="out of 5"]`)),
	}

	detailReviewStrategies = []fieldStrategy[int]{
		reviewCountFrom(selectorAttr("content", `[itemprop="reviewCount"]`)),
		reviewCountFrom(selectorText(`[data-reviews-count-typography]`, `[class*="reviewsCount"]`, `[class*="reviewCount"]`)),
		reviewCountFrom(func(sel *goquery.Selection) (string, bool) {
			return spacedText(sel.Find("h1").Parent()), true
		}),
	}

	descriptionStrategies = []fieldStrategy[string]{
		selectorAttr("content", `meta[name="description"]`, `meta[property="og:description"]`),
		selectorText(`[class*="about"] p`, `[data-testid="business-unit-description"]`),
	}

	websiteSelectors = []string{
		`a[data-testid="business-unit-website"]`,
		`a[class*="websiteUrl"]`,
		`a[itemprop="url"]`,
	}
)

// outboundWebsite returns the first absolute link leaving the source domain.
func outboundWebsite(doc *goquery.Document, sourceURL string) string {
	base, err := url.Parse(sourceURL)
	if err != nil {
		return ""
	}
	sourceHost := strings.TrimPrefix(strings.ToLower(base.Hostname()), "www.")
	resolve := func(href string) string {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return ""
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return ""
		}
		host := strings.TrimPrefix(strings.ToLower(abs.Hostname()), "www.")
		if host == "" || host == sourceHost || strings.HasSuffix(host, "."+sourceHost) {
			return ""
		}
		return abs.String()
	}
	for _, selector := range websiteSelectors {
		if href, ok := doc.Find(selector).First().Attr("href"); ok {
			if website := resolve(href); website != "" {
				return website
			}
		}
	}
	var website string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		website = resolve(href)
		return website == ""
	})
	return website
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
