package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsValidPhone(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"1111111":           false,
		"+39 02 1234567":    true,
		"(555) 867-5309":    true,
		"1234567":           false,
		"0000000000":        false,
		"123":               false,
		"+1234567890123456": false,
		"call me":           false,
		"+44 20 7946 0958":  true,
	}
	for input, want := range cases {
		require.Equal(t, want, IsValidPhone(input), input)
	}
}

func TestExtractPhones(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"+39 02 1234567"}, ExtractPhones("Call +39 02 1234567 today"))
	require.Empty(t, ExtractPhones("tel 0000 000000 or 1111111"))
	require.Equal(t, []string{"(555) 867-5309"}, ExtractPhones("US office: (555) 867-5309."))
}

func TestExtractEmails(t *testing.T) {
	t.Parallel()

	got := ExtractEmails("Contact info@acme.it or INFO@acme.it, info@acme.it")
	require.Equal(t, []string{"info@acme.it", "INFO@acme.it"}, got)
	require.True(t, IsValidEmail("sales@beta.co.uk"))
	require.False(t, IsValidEmail("not an email"))
	require.False(t, IsValidEmail("x sales@beta.co.uk"))
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.trustpilot.com/review/acme.it":         "acme.it",
		"https://it.trustpilot.com/review/www.beta.com?x=1": "www.beta.com",
		"https://www.acme.it/about":                         "acme.it",
		"acme.it":                                           "acme.it",
		"":                                                  "",
	}
	for input, want := range cases {
		require.Equal(t, want, ExtractDomain(input), input)
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	require.Equal(t, "123 Main Street", ExtractAddress("Find us at 123 Main Street, Springfield"))
	require.Equal(t, "Via Roma 10", ExtractAddress("Sede: Via Roma 10, Milano"))
	require.Equal(t, "P.O. Box 12345", ExtractAddress("Mail: P.O. Box 12345"))
	require.Empty(t, ExtractAddress("Via Po 1"))
	require.Empty(t, ExtractAddress("no address here"))
}

func TestExtractCity(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Via Roma 10, 20121 Milano, Italy":    "Milano",
		"123 Main Street, Springfield, 12345": "Springfield",
		"Corso Italia 5, Pisa (PI)":           "Pisa",
		"Milano, Italy":                       "Milano",
		"Nowhere":                             "",
		"Via Roma 10, Italy":                  "",
	}
	for input, want := range cases {
		require.Equal(t, want, ExtractCity(input), input)
	}
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Acme Srl 4.5 stars 1,234 reviews": "Acme Srl",
		"Most Relevant Acme Tools":         "Acme Tools",
		"Bella Pizza Via Roma 12":          "Bella Pizza",
		"Acme | TrustScore 4.8":            "Acme",
		"  Northwind \n Traders ":          "Northwind Traders",
		"Unknown":                          "",
		"AB":                               "",
		"日本":                               "",
		"Çé":                               "",
		"日本橋":                              "日本橋",
		"":                                 "",
	}
	for input, want := range cases {
		require.Equal(t, want, CleanName(input), input)
	}
}

func TestParseRatingAndReviews(t *testing.T) {
	t.Parallel()

	rating, ok := ParseRating("4,5")
	require.True(t, ok)
	require.InDelta(t, 4.5, rating, 0.0001)
	_, ok = ParseRating("5.5")
	require.False(t, ok)
	_, ok = ParseRating("-1")
	require.False(t, ok)
	for _, bad := range []string{"NaN", "nan", "Inf", "+Inf", "-Inf"} {
		_, ok = ParseRating(bad)
		require.False(t, ok, bad)
	}

	count, ok := ParseReviewCount("1,234")
	require.True(t, ok)
	require.Equal(t, 1234, count)
	_, ok = ParseReviewCount("0")
	require.False(t, ok)

	count, ok = ReviewCountFromText("4.5 · 1,234 reviews")
	require.True(t, ok)
	require.Equal(t, 1234, count)

	rating, ok = RatingFromText("Rated 4.1 out of 5")
	require.True(t, ok)
	require.InDelta(t, 4.1, rating, 0.0001)
}

func TestSlugToName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Acme Tools Italia", SlugToName("acme-tools-italia"))
	require.Equal(t, "Beta.com", SlugToName("www.beta.com"))
}
