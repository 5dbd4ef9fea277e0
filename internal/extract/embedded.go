package extract

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

// payloadAttributes carry inline JSON describing a business unit.
var payloadAttributes = []string{
	"data-business-unit-json",
	"data-business-unit",
	"data-props",
	"data-json",
}

const maxPayloadDepth = 6

// embeddedPayloads collects the JSON payload attributes found in doc.
// Malformed payloads are reported through onAnomaly and skipped.
func embeddedPayloads(sel *goquery.Selection, onAnomaly func(error)) []map[string]any {
	var units []map[string]any
	for _, attr := range payloadAttributes {
		sel.Find("[" + attr + "]").Each(func(_ int, s *goquery.Selection) {
			raw, _ := s.Attr(attr)
			var payload any
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				onAnomaly(fmt.Errorf("%w: %s payload: %v", crawler.ErrExtractionAnomaly, attr, err))
				return
			}
			units = append(units, collectUnits(payload, 0)...)
		})
	}
	return units
}

// collectUnits walks a decoded payload and returns every object that names a business.
func collectUnits(node any, depth int) []map[string]any {
	if depth > maxPayloadDepth {
		return nil
	}
	switch v := node.(type) {
	case map[string]any:
		if _, ok := v["displayName"]; ok {
			return []map[string]any{v}
		}
		var out []map[string]any
		for _, key := range slices.Sorted(maps.Keys(v)) {
			out = append(out, collectUnits(v[key], depth+1)...)
		}
		return out
	case []any:
		var out []map[string]any
		for _, child := range v {
			out = append(out, collectUnits(child, depth+1)...)
		}
		return out
	default:
		return nil
	}
}

// companyFromUnit maps a business-unit object onto a Company draft.
func companyFromUnit(unit map[string]any, sourceURL string) crawler.Company {
	company := crawler.Company{
		Name:      stringField(unit, "displayName"),
		SourceURL: sourceURL,
	}
	if score, ok := numberField(unit, "trustScore"); ok {
		if rating, ok := ParseRating(strconv.FormatFloat(score, 'f', -1, 64)); ok {
			company.Rating = &rating
		}
	}
	if count, ok := reviewCountField(unit["numberOfReviews"]); ok {
		company.ReviewCount = &count
	}
	if website := stringField(unit, "websiteUrl"); website != "" {
		company.Website = website
		company.Domain = ExtractDomain(website)
	}
	if company.Domain == "" {
		company.Domain = strings.ToLower(stringField(unit, "identifyingName"))
	}
	if location, ok := unit["location"].(map[string]any); ok {
		company.Address = stringField(location, "address")
		company.City = stringField(location, "city")
	}
	if contact, ok := unit["contact"].(map[string]any); ok {
		if email := stringField(contact, "email"); IsValidEmail(email) {
			company.Email = email
		}
		if phone := stringField(contact, "phone"); IsValidPhone(phone) {
			company.Phone = phone
		}
		if company.Website == "" {
			company.Website = stringField(contact, "website")
		}
	}
	if categories, ok := unit["categories"].([]any); ok && len(categories) > 0 {
		if first, ok := categories[0].(map[string]any); ok {
			company.Type = stringField(first, "displayName")
		}
	}
	company.Description = stringField(unit, "description")
	return company
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return CleanText(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func numberField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// reviewCountField accepts a number, a numeric string, or an object with a total.
func reviewCountField(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if count := int(n); count > 0 {
			return count, true
		}
		return 0, false
	case string:
		return ParseReviewCount(n)
	case map[string]any:
		return reviewCountField(n["total"])
	default:
		return 0, false
	}
}
