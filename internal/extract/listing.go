package extract

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const (
	minHeadingLength = 5
	maxHeadingLength = 100
)

// listingStrategy turns a listing document into company drafts. matched is
// true when the strategy found at least one candidate container, which ends
// the cascade even if no draft survives validation.
type listingStrategy struct {
	name string
	run  func(doc *goquery.Document, sourceURL string, onAnomaly func(error)) (drafts []crawler.Company, matched bool)
}

var listingStrategies = []listingStrategy{
	{name: "embedded_json", run: embeddedStrategy},
	{name: "cards", run: cardStrategy},
	{name: "detail_links", run: linkStrategy},
	{name: "headings", run: headingStrategy},
}

// cardSelectors are tried in order; the first one matching anything wins.
var cardSelectors = []string{
	`[data-testid="business-unit-card"]`,
	`[data-business-unit-card]`,
	`article[class*="businessUnitCard"]`,
	`div[class*="businessUnitResult"]`,
	`div[class*="styles_businessUnitMain"]`,
	`[class*="business-unit-card"]`,
	`[itemtype*="schema.org/LocalBusiness"]`,
	`[itemtype*="schema.org/Organization"]`,
	`article[class*="card"]`,
}

const detailLinkSelector = `a[href*="/review/"]`

func embeddedStrategy(doc *goquery.Document, sourceURL string, onAnomaly func(error)) ([]crawler.Company, bool) {
	units := embeddedPayloads(doc.Selection, onAnomaly)
	if len(units) == 0 {
		return nil, false
	}
	drafts := make([]crawler.Company, 0, len(units))
	for _, unit := range units {
		company := companyFromUnit(unit, sourceURL)
		company.Name = CleanName(company.Name)
		drafts = append(drafts, company)
	}
	return drafts, true
}

func cardStrategy(doc *goquery.Document, sourceURL string, _ func(error)) ([]crawler.Company, bool) {
	for _, selector := range cardSelectors {
		cards := doc.Find(selector)
		if cards.Length() == 0 {
			continue
		}
		drafts := make([]crawler.Company, 0, cards.Length())
		cards.Each(func(_ int, card *goquery.Selection) {
			drafts = append(drafts, companyFromCard(card, sourceURL))
		})
		return drafts, true
	}
	return nil, false
}

func companyFromCard(card *goquery.Selection, sourceURL string) crawler.Company {
	company := crawler.Company{SourceURL: sourceURL}
	company.Name, _ = firstOf(card, cardNameStrategies)
	if rating, ok := firstOf(card, cardRatingStrategies); ok {
		company.Rating = &rating
	}
	if count, ok := firstOf(card, cardReviewStrategies); ok {
		company.ReviewCount = &count
	}
	if location, ok := firstOf(card, locationStrategies); ok {
		company.Address, company.City = splitLocation(location)
	}
	company.Type, _ = firstOf(card, categoryStrategies)
	if href, ok := card.Find(detailLinkSelector).First().Attr("href"); ok {
		company.Domain = ExtractDomain(href)
	}
	text := spacedText(card)
	if company.Address == "" {
		company.Address = ExtractAddress(text)
	}
	mineContacts(&company, card, text)
	return company
}

func linkStrategy(doc *goquery.Document, sourceURL string, _ func(error)) ([]crawler.Company, bool) {
	links := doc.Find(detailLinkSelector)
	if links.Length() == 0 {
		return nil, false
	}
	seen := make(map[string]struct{})
	var drafts []crawler.Company
	links.Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		company := crawler.Company{
			SourceURL: sourceURL,
			Domain:    ExtractDomain(href),
			Name:      CleanName(spacedText(link)),
		}
		if company.Name == "" {
			company.Name = CleanName(SlugToName(reviewSlug(href)))
		}
		around := spacedText(link.Parent())
		if rating, ok := RatingFromText(around); ok {
			company.Rating = &rating
		}
		if count, ok := ReviewCountFromText(around); ok {
			company.ReviewCount = &count
		}
		drafts = append(drafts, company)
	})
	return drafts, true
}

func headingStrategy(doc *goquery.Document, sourceURL string, _ func(error)) ([]crawler.Company, bool) {
	var drafts []crawler.Company
	doc.Find("h1, h2, h3").Each(func(_ int, heading *goquery.Selection) {
		text := spacedText(heading)
		if n := utf8.RuneCountInString(text); n < minHeadingLength || n > maxHeadingLength {
			return
		}
		drafts = append(drafts, crawler.Company{
			SourceURL: sourceURL,
			Name:      CleanName(text),
		})
	})
	return drafts, len(drafts) > 0
}

// splitLocation classifies a location string into street address and city.
func splitLocation(location string) (address, city string) {
	location = CleanText(location)
	address = ExtractAddress(location)
	if address == "" && strings.ContainsAny(location, "0123456789") {
		address = location
	}
	city = ExtractCity(location)
	if city == "" && !strings.Contains(location, ",") {
		city = cleanCity(location)
	}
	return address, city
}

// mineContacts fills e-mail and phone from structured links, then free text.
func mineContacts(company *crawler.Company, scope *goquery.Selection, text string) {
	if company.Email == "" {
		scope.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			email := strings.TrimPrefix(strings.SplitN(href, "?", 2)[0], "mailto:")
			if IsValidEmail(email) {
				company.Email = email
			}
			return company.Email == ""
		})
	}
	if company.Phone == "" {
		scope.Find(`a[href^="tel:"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, _ := a.Attr("href")
			phone := strings.TrimSpace(strings.TrimPrefix(href, "tel:"))
			if IsValidPhone(phone) {
				company.Phone = phone
			}
			return company.Phone == ""
		})
	}
	if company.Email == "" {
		if emails := ExtractEmails(text); len(emails) > 0 {
			company.Email = emails[0]
		}
	}
	if company.Phone == "" {
		if phones := ExtractPhones(text); len(phones) > 0 {
			company.Phone = phones[0]
		}
	}
}

func reviewSlug(href string) string {
	if m := reviewPathSegment.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	if u, err := url.Parse(href); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		return parts[len(parts)-1]
	}
	return ""
}
