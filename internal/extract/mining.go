package extract

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	emailRegex = regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)

	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+\d{1,3}\s?\d{1,4}\s?\d{1,4}\s?\d{1,9}`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}-?\d{4}`),
		regexp.MustCompile(`\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		regexp.MustCompile(`\b0\d{1,4}\s?\d{1,4}\s?\d{1,9}\b`),
		regexp.MustCompile(`\+\d{2}\s?3\d{2}\s?\d{3}\s?\d{4}`),
		regexp.MustCompile(`\+44\s?\d{2,4}\s?\d{3,4}\s?\d{3,4}`),
		regexp.MustCompile(`\+49\s?\d{2,5}\s?\d{3,9}`),
		regexp.MustCompile(`\+33\s?\d(?:[\s.]?\d{2}){4}`),
	}
	phoneFormatting = regexp.MustCompile(`[\s\-.()]`)
	phoneDigits     = regexp.MustCompile(`^\+?(\d+)$`)

	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Way|Circle|Cir|Court|Ct|Place|Pl)\b[\s,]*`),
		regexp.MustCompile(`(?:Via|Viale|Piazza|Corso|Strada)\s+[A-Za-z\s]+\d*[\s,]*`),
		regexp.MustCompile(`P\.?O\.?\s*Box\s+\d+`),
	}

	cityPostalBefore = regexp.MustCompile(`,\s*([\p{L}\s]+),?\s*\d{5}`)
	cityPostalAfter  = regexp.MustCompile(`,\s*\d{5}\s+([\p{L}\s]+)`)
	cityProvince     = regexp.MustCompile(`,\s*([\p{L}\s]+?)\s*\(\w{2}\)`)

	reviewPathSegment = regexp.MustCompile(`/review/([^/?#\s]+)`)
	domainFallback    = regexp.MustCompile(`(?:https?://)?(?:www\.)?([^/\s?]+)`)

	whitespaceRun = regexp.MustCompile(`\s+`)
)

const (
	minAddressLength = 10
	minCityLength    = 2
	minPhoneDigits   = 7
	maxPhoneDigits   = 15
)

// CleanText collapses whitespace runs and trims.
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// ExtractEmails returns distinct e-mail matches in document order.
func ExtractEmails(text string) []string {
	matches := emailRegex.FindAllString(text, -1)
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

// IsValidEmail reports whether s is a plausible e-mail address.
func IsValidEmail(s string) bool {
	m := emailRegex.FindString(s)
	return m != "" && m == strings.TrimSpace(s)
}

// ExtractPhones returns distinct, validated phone matches. A match contained
// in an earlier accepted number is skipped.
func ExtractPhones(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, pattern := range phonePatterns {
		for _, m := range pattern.FindAllString(text, -1) {
			m = strings.TrimSpace(m)
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			if !IsValidPhone(m) || containedIn(m, out) {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

func containedIn(candidate string, accepted []string) bool {
	for _, a := range accepted {
		if strings.Contains(a, candidate) {
			return true
		}
	}
	return false
}

// IsValidPhone strips formatting and checks the digit count and rejects
// degenerate sequences (all the same digit, trivially ascending, all zero).
func IsValidPhone(phone string) bool {
	stripped := phoneFormatting.ReplaceAllString(phone, "")
	m := phoneDigits.FindStringSubmatch(stripped)
	if m == nil {
		return false
	}
	digits := m[1]
	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return false
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return false
	}
	if strings.Contains("01234567890123456789", digits) {
		return false
	}
	return true
}

// ExtractAddress returns the first street-like fragment longer than ten characters.
func ExtractAddress(text string) string {
	for _, pattern := range addressPatterns {
		for _, m := range pattern.FindAllString(text, -1) {
			candidate := strings.Trim(CleanText(m), " ,")
			if len(candidate) > minAddressLength {
				return candidate
			}
		}
	}
	return ""
}

// ExtractCity derives a city token from free-form address text.
func ExtractCity(text string) string {
	text = CleanText(text)
	if m := cityPostalBefore.FindStringSubmatch(text); m != nil {
		if city := cleanCity(m[1]); city != "" {
			return city
		}
	}
	if m := cityPostalAfter.FindStringSubmatch(text); m != nil {
		if city := cleanCity(m[1]); city != "" {
			return city
		}
	}
	if m := cityProvince.FindStringSubmatch(text); m != nil {
		if city := cleanCity(m[1]); city != "" {
			return city
		}
	}
	return cityFromSegments(text)
}

// cityFromSegments handles "Street 1, City, Country" and "City, Country".
func cityFromSegments(text string) string {
	parts := strings.Split(text, ",")
	if len(parts) < 2 {
		return ""
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	country := parts[len(parts)-1]
	if !lettersOnly(country) {
		return ""
	}
	return cleanCity(parts[len(parts)-2])
}

func cleanCity(s string) string {
	city := strings.TrimSpace(s)
	if len(city) <= minCityLength || !lettersOnly(city) {
		return ""
	}
	for _, prefix := range []string{"Via ", "Viale ", "Piazza ", "Corso ", "Strada "} {
		if strings.HasPrefix(city, prefix) {
			return ""
		}
	}
	return city
}

func lettersOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '\'' {
			return false
		}
	}
	return true
}

// ExtractDomain derives the business domain from a review URL, a plain URL,
// or a bare host.
func ExtractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "/review/") {
		if m := reviewPathSegment.FindStringSubmatch(raw); m != nil {
			if decoded, err := url.PathUnescape(m[1]); err == nil {
				return strings.ToLower(decoded)
			}
			return strings.ToLower(m[1])
		}
	}
	candidate := raw
	if !strings.HasPrefix(candidate, "http://") && !strings.HasPrefix(candidate, "https://") {
		candidate = "https://" + candidate
	}
	if u, err := url.Parse(candidate); err == nil && u.Hostname() != "" {
		return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	}
	if m := domainFallback.FindStringSubmatch(raw); m != nil {
		return strings.ToLower(m[1])
	}
	return ""
}

// ParseRating accepts "4.5", "4,5" and rejects anything outside [0,5],
// NaN included.
func ParseRating(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseReviewCount strips thousands separators and requires a positive integer.
func ParseReviewCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer(",", "", ".", "", " ", "", "\u00a0", "", "'", "").Replace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// SlugToName turns "acme-tools-italia" into "Acme Tools Italia".
func SlugToName(slug string) string {
	if decoded, err := url.PathUnescape(slug); err == nil {
		slug = decoded
	}
	slug = strings.TrimPrefix(strings.ToLower(slug), "www.")
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(slug))
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
