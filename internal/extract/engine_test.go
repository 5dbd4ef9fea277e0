package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

const embeddedListing = `<html><body>
<div data-business-unit-json='{"displayName":"Acme Srl","trustScore":4.6,"numberOfReviews":{"total":1234},"websiteUrl":"https://www.acme.it","location":{"address":"Via Roma 10","city":"Milano"},"contact":{"email":"info@acme.it","phone":"+39 02 1234567"},"categories":[{"displayName":"Hardware Store"}]}'></div>
<div data-business-unit-json='{"displayName":"acme srl","trustScore":3.1}'></div>
<div data-business-unit-json='{"displayName":"Beta Spa","trustScore":9,"numberOfReviews":12}'></div>
<div data-props='{not json'></div>
<h2>Some Unrelated Heading</h2>
</body></html>`

const cardListing = `<html><body>
<div data-testid="business-unit-card">
  <a href="/review/pizzeria-bella.it"><p class="styles_displayName__x">Pizzeria Bella</p></a>
  <span data-rating="4.2"></span>
  <p class="styles_reviewCount">1.234 recensioni</p>
  <div class="styles_location">Via Roma 10, 20121 Milano, Italy</div>
  <a href="mailto:ciao@pizzeriabella.it">Email</a>
</div>
<div data-testid="business-unit-card">
  <h3>Trattoria Blu</h3>
  <p>TrustScore 3.9 | 87 reviews</p>
  <span class="address">Corso Italia 5, Pisa (PI)</span>
  <p>Tel: +39 050 7654321</p>
</div>
<div data-testid="business-unit-card"><h3>Pizzeria bella</h3></div>
</body></html>`

const linkListing = `<html><body><ul>
<li><a href="https://www.trustpilot.com/review/green-energy.com"></a> Rated 4.1 out of 5 · 320 reviews</li>
<li><a href="/review/blue-sky-travel.it">Blue Sky Travel</a></li>
<li><a href="/review/blue-sky-travel.it">dup</a></li>
</ul></body></html>`

const headingListing = `<html><body>
<h1>Best</h1>
<h2>Northwind Traders</h2>
<h2>Contoso Pharmaceuticals</h2>
</body></html>`

const detailPage = `<html><head>
<title>Acme Srl Reviews | Read Customer Service Reviews</title>
<meta name="description" content="Acme makes tools.">
</head><body>
<h1><span class="title_displayName">Acme Srl</span></h1>
<p data-rating-typography="true">4.7</p>
<p class="styles_reviewsCount">2,345 reviews</p>
<address>Via Roma 10, 20121 Milano, Italy</address>
<a href="https://www.trustpilot.com/categories/tools">Tools</a>
<div class="categories"><a href="/categories/tools">Hardware Store</a></div>
<a href="mailto:info@acme.it">Mail</a>
<p>Call us at +39 02 1234567</p>
<a href="https://www.acme.it">Visit website</a>
</body></html>`

const listingURL = "https://www.trustpilot.com/categories/hardware_store"

func TestExtractListing_EmbeddedJSON(t *testing.T) {
	t.Parallel()

	got := New(zap.NewNop()).ExtractListing(embeddedListing, listingURL, crawler.Settings{})
	require.Len(t, got, 2)

	acme := got[0]
	require.Equal(t, "Acme Srl", acme.Name)
	require.InDelta(t, 4.6, *acme.Rating, 0.0001)
	require.Equal(t, 1234, *acme.ReviewCount)
	require.Equal(t, "acme.it", acme.Domain)
	require.Equal(t, "https://www.acme.it", acme.Website)
	require.Equal(t, "Milano", acme.City)
	require.Equal(t, "Via Roma 10", acme.Address)
	require.Equal(t, "info@acme.it", acme.Email)
	require.Equal(t, "+39 02 1234567", acme.Phone)
	require.Equal(t, "Hardware Store", acme.Type)
	require.Equal(t, listingURL, acme.SourceURL)
	require.Equal(t, crawler.CompanyStatusComplete, acme.Status)

	beta := got[1]
	require.Equal(t, "Beta Spa", beta.Name)
	require.Nil(t, beta.Rating, "out-of-range trust score is dropped")
	require.Equal(t, 12, *beta.ReviewCount)
}

func TestExtractListing_Cards(t *testing.T) {
	t.Parallel()

	got := New(nil).ExtractListing(cardListing, listingURL, crawler.Settings{ReviewLimit: 10})
	require.Len(t, got, 2)

	bella := got[0]
	require.Equal(t, "Pizzeria Bella", bella.Name)
	require.InDelta(t, 4.2, *bella.Rating, 0.0001)
	require.Equal(t, 1234, *bella.ReviewCount)
	require.Equal(t, "Via Roma 10", bella.Address)
	require.Equal(t, "Milano", bella.City)
	require.Equal(t, "pizzeria-bella.it", bella.Domain)
	require.Equal(t, "ciao@pizzeriabella.it", bella.Email)
	require.Empty(t, bella.Phone)

	blu := got[1]
	require.Equal(t, "Trattoria Blu", blu.Name)
	require.InDelta(t, 3.9, *blu.Rating, 0.0001)
	require.Equal(t, 87, *blu.ReviewCount)
	require.Equal(t, "Corso Italia 5", blu.Address)
	require.Equal(t, "Pisa", blu.City)
	require.Equal(t, "+39 050 7654321", blu.Phone)
}

func TestExtractListing_DetailLinks(t *testing.T) {
	t.Parallel()

	got := New(nil).ExtractListing(linkListing, listingURL, crawler.Settings{})
	require.Len(t, got, 2)

	require.Equal(t, "Green Energy.com", got[0].Name)
	require.Equal(t, "green-energy.com", got[0].Domain)
	require.InDelta(t, 4.1, *got[0].Rating, 0.0001)
	require.Equal(t, 320, *got[0].ReviewCount)

	require.Equal(t, "Blue Sky Travel", got[1].Name)
	require.Equal(t, "blue-sky-travel.it", got[1].Domain)
	require.Nil(t, got[1].Rating)
}

func TestExtractListing_HeadingsAndLimit(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	got := engine.ExtractListing(headingListing, listingURL, crawler.Settings{})
	require.Len(t, got, 2)
	require.Equal(t, "Northwind Traders", got[0].Name)
	require.Equal(t, "Contoso Pharmaceuticals", got[1].Name)

	limited := engine.ExtractListing(headingListing, listingURL, crawler.Settings{ReviewLimit: 1})
	require.Len(t, limited, 1)
}

func TestExtractListing_HeadingLengthCountsCharacters(t *testing.T) {
	t.Parallel()

	page := `<html><body><h2>日本茶屋</h2><h2>Northwind Traders</h2></body></html>`
	got := New(nil).ExtractListing(page, listingURL, crawler.Settings{})
	require.Len(t, got, 1)
	require.Equal(t, "Northwind Traders", got[0].Name)
}

func TestExtractListing_RejectsNonNumericScores(t *testing.T) {
	t.Parallel()

	page := `<html><body>
<div data-business-unit-json='{"displayName":"Forno Nero","trustScore":"NaN","numberOfReviews":0.5}'></div>
<div data-business-unit-json='{"displayName":"Forno Bianco","trustScore":"4.3","numberOfReviews":"18"}'></div>
</body></html>`
	got := New(nil).ExtractListing(page, listingURL, crawler.Settings{})
	require.Len(t, got, 2)
	require.Nil(t, got[0].Rating)
	require.Nil(t, got[0].ReviewCount, "fractional counts below one are not reviews")
	require.InDelta(t, 4.3, *got[1].Rating, 0.0001)
	require.Equal(t, 18, *got[1].ReviewCount)

	cards := `<html><body>
<div data-testid="business-unit-card">
  <p class="styles_displayName__x">Forno Nero</p>
  <span data-rating="NaN"></span>
</div>
</body></html>`
	got = New(nil).ExtractListing(cards, listingURL, crawler.Settings{})
	require.Len(t, got, 1)
	require.Equal(t, "Forno Nero", got[0].Name)
	require.Nil(t, got[0].Rating)

	_, err := json.Marshal(got)
	require.NoError(t, err)
}

func TestExtractListing_NeverFails(t *testing.T) {
	t.Parallel()

	engine := New(nil)
	require.Empty(t, engine.ExtractListing("", listingURL, crawler.Settings{}))
	require.Empty(t, engine.ExtractListing("<html></html>", listingURL, crawler.Settings{}))
	require.Empty(t, engine.ExtractListing("<div data-json='[[[{'>", listingURL, crawler.Settings{}))
}

func TestExtractDetail(t *testing.T) {
	t.Parallel()

	got, ok := New(nil).ExtractDetail(detailPage, "https://www.trustpilot.com/review/acme.it")
	require.True(t, ok)
	require.Equal(t, "Acme Srl", got.Name)
	require.InDelta(t, 4.7, *got.Rating, 0.0001)
	require.Equal(t, 2345, *got.ReviewCount)
	require.Equal(t, "Via Roma 10", got.Address)
	require.Equal(t, "Milano", got.City)
	require.Equal(t, "info@acme.it", got.Email)
	require.Equal(t, "+39 02 1234567", got.Phone)
	require.Equal(t, "Hardware Store", got.Type)
	require.Equal(t, "Acme makes tools.", got.Description)
	require.Equal(t, "https://www.acme.it", got.Website)
	require.Equal(t, "acme.it", got.Domain)
	require.Equal(t, crawler.CompanyStatusComplete, got.Status)
}

func TestExtractDetail_NoName(t *testing.T) {
	t.Parallel()

	_, ok := New(nil).ExtractDetail("<html><body><p>nothing</p></body></html>", "https://www.trustpilot.com/review/x.it")
	require.False(t, ok)
}

func TestFinalizeDedupesCaseInsensitively(t *testing.T) {
	t.Parallel()

	got := Finalize([]crawler.Company{
		{Name: "Acme  Srl", SourceURL: "a"},
		{Name: ""},
		{Name: "ACME SRL", SourceURL: "b"},
		{Name: "Beta"},
	}, 0)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].SourceURL)
	require.Equal(t, "Beta", got[1].Name)
}

func TestClassifyURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, PageDetail, ClassifyURL("https://www.trustpilot.com/review/acme.it"))
	require.Equal(t, PageListing, ClassifyURL(listingURL))
}
