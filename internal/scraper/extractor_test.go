package scraper

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pfrederiksen/events-monitor/internal/event"
)

const testBaseURL = "https://store.example.com/locations/north/"

var extractedAt = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// page wraps body in a document large enough to pass the content size check
func page(title, body string) []byte {
	padding := "<!-- " + strings.Repeat("layout padding ", 40) + "-->"
	return []byte("<!DOCTYPE html>\n<html>\n<head>\n<title>" + title + "</title>\n" + padding +
		"\n</head>\n<body>\n" + body + "\n</body>\n</html>")
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func titles(snap event.Snapshot) []string {
	out := make([]string, 0, len(snap))
	for _, rec := range snap {
		out = append(out, rec.Title)
	}
	return out
}

func TestExtract_ListingStrategy(t *testing.T) {
	raw := page("Events", `
<ul aria-label="Upcoming events at the store">
  <li data-event-id="evt-1">
    <h3>Kids Workshop</h3>
    <time datetime="2026-10-18">Sat, Oct 18</time>
    <p>Build a birdhouse</p>
    <a href="/events/kids-workshop">Details</a>
  </li>
  <li>
    <h3>Cooking Class</h3>
    <p>Oct 25, 2026</p>
    <p>Swedish   meatballs</p>
    <a href="https://other.example.com/cook">More</a>
  </li>
  <li>
    <h3>Sign up for our newsletter</h3>
    <p>Oct 30</p>
  </li>
  <li data-event-id="evt-1">
    <h3>Kids Workshop (repeat)</h3>
  </li>
</ul>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	require.Len(t, snap, 2)

	first := snap[0]
	assert.Equal(t, "Kids Workshop", first.Title)
	assert.Equal(t, "Sat, Oct 18", first.DateText)
	assert.Equal(t, "Build a birdhouse", first.Description)
	assert.Equal(t, "https://store.example.com/events/kids-workshop", first.URL)
	assert.Equal(t, event.GenerateKey("evt-1", "", ""), first.Key)
	assert.True(t, first.ExtractedAt.Equal(extractedAt))

	second := snap[1]
	assert.Equal(t, "Cooking Class", second.Title)
	assert.Equal(t, "Oct 25, 2026", second.DateText)
	assert.Equal(t, "Swedish meatballs", second.Description)
	assert.Equal(t, "https://other.example.com/cook", second.URL)
}

func TestExtract_LinksStrategy(t *testing.T) {
	raw := page("Events", `
<ul class="nav"><li><a href="/about">About</a></li></ul>
<ul>
  <li><a href="/events/yoga">Morning Yoga</a> <span>Nov 2</span></li>
  <li><a href="/events/yoga">Morning Yoga</a> <span>Nov 2</span></li>
  <li><a href="/events/list">Read more</a></li>
</ul>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	require.Len(t, snap, 1)

	assert.Equal(t, "Morning Yoga", snap[0].Title)
	assert.Equal(t, "Nov 2", snap[0].DateText)
	assert.Equal(t, "https://store.example.com/events/yoga", snap[0].URL)
}

func TestExtract_CardsStrategy(t *testing.T) {
	raw := page("Events", `
<div class="events-grid">
  <article class="event-card" data-id="c-1">
    <h2 class="event-title">Plant Swap</h2>
    <span class="event-date">November 8, 2026</span>
    <p>Bring a cutting</p>
    <a href="plant-swap">Info</a>
  </article>
  <article class="event-card">
    <h2>Lamp Repair Clinic</h2>
    <div class="when">Dec 3</div>
  </article>
  <div class="menu-item">Home</div>
</div>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"Plant Swap", "Lamp Repair Clinic"}, titles(snap))

	assert.Equal(t, "November 8, 2026", snap[0].DateText)
	assert.Equal(t, event.GenerateKey("c-1", "", ""), snap[0].Key)
	assert.Equal(t, "https://store.example.com/locations/north/plant-swap", snap[0].URL)
	assert.Contains(t, snap[0].Description, "Bring a cutting")
	assert.Equal(t, "Dec 3", snap[1].DateText)
}

func TestExtract_TextStrategy(t *testing.T) {
	raw := page("Community calendar", `
<div><p>
Community calendar
Repair Café – Oct 21
Oct 28 · Flat-pack assembly basics
</p></div>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"Repair Café", "Flat-pack assembly basics"}, titles(snap))
	assert.Equal(t, "Oct 21", snap[0].DateText)
	assert.Equal(t, "Oct 28", snap[1].DateText)
}

func TestExtract_StrategyPriority(t *testing.T) {
	// both a labelled listing and a dated card exist; the listing wins
	raw := page("Events", `
<ul aria-label="Events"><li><h3>Listed Event</h3><time>Oct 20</time></li></ul>
<div class="event-card"><h2>Card Event</h2><time>Oct 21</time></div>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	assert.Equal(t, []string{"Listed Event"}, titles(snap))
}

func TestExtract_EmptyButValidPage(t *testing.T) {
	raw := page("Events", `
<h1>Upcoming events</h1>
<p>There are no events scheduled right now. Check back soon.</p>`)

	snap, err := NewExtractor().Extract(raw, testBaseURL, extractedAt)
	require.NoError(t, err)
	assert.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestExtract_NoUsableContent(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "too short", raw: []byte("<html><body><p>Oct 18 Workshop</p></body></html>")},
		{name: "not found title", raw: page("404 Not Found", "<p>The page you requested could not be found.</p>")},
		{name: "access denied title", raw: page("Access Denied", "<p>You don't have permission.</p>")},
		{name: "error title", raw: page("Error | Store", "<p>Something went wrong.</p>")},
		{name: "service unavailable title", raw: page("503 Service Unavailable", "<p>Try again later.</p>")},
		{name: "no body text", raw: page("Events", "<div></div><script>var x = 'Oct 18';</script>")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := NewExtractor().Extract(tt.raw, testBaseURL, extractedAt)
			assert.Nil(t, snap)

			var extractErr *ExtractError
			require.True(t, errors.As(err, &extractErr), "expected *ExtractError, got %v", err)
			assert.Equal(t, NoUsableContent, extractErr.Kind)
		})
	}
}

func TestExtract_TitleResemblingErrorPage(t *testing.T) {
	list := `<ul aria-label="Upcoming events"><li><h3>Haunted Maze</h3><time>October 30, 2026</time></li></ul>`

	for _, title := range []string{
		"Terror Night and Other Events | Store",
		"Route 404 Meetups",
		"100 Years of Events",
		"Error Night Comedy Events",
	} {
		t.Run(title, func(t *testing.T) {
			snap, err := NewExtractor().Extract(page(title, list), testBaseURL, extractedAt)
			require.NoError(t, err)
			assert.Equal(t, []string{"Haunted Maze"}, titles(snap))
		})
	}
}

func TestIsErrorTitle(t *testing.T) {
	tests := []struct {
		title string
		want  bool
	}{
		{"404", true},
		{"404 Not Found", true},
		{"404 - Page Not Found", true},
		{"500 Internal Server Error", true},
		{"Error", true},
		{"error: request blocked", true},
		{"Page Not Found | Store", true},
		{"Store | Access Denied", true},
		{"Events", false},
		{"", false},
		{"Terror Night", false},
		{"Route 404 Meetups", false},
		{"2026 Events", false},
		{"404 Club Open House", false},
		{"Error Night Comedy Events", false},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, isErrorTitle(tt.title))
		})
	}
}

func TestResolveURL(t *testing.T) {
	base := mustParse(t, testBaseURL)

	tests := []struct {
		href string
		want string
	}{
		{"/events/1", "https://store.example.com/events/1"},
		{"details", "https://store.example.com/locations/north/details"},
		{"https://cdn.example.com/e", "https://cdn.example.com/e"},
		{"#top", ""},
		{"mailto:hello@example.com", ""},
		{"javascript:void(0)", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveURL(base, tt.href))
		})
	}

	assert.Equal(t, "", resolveURL(nil, "/relative"))
	assert.Equal(t, "https://example.com/x", resolveURL(nil, "https://example.com/x"))
}

func TestIsEventBlock(t *testing.T) {
	tests := []struct {
		name string
		b    block
		want bool
	}{
		{"real event", block{title: "Kids Workshop"}, true},
		{"empty title", block{title: "  "}, false},
		{"promo title", block{title: "Store hours this week"}, false},
		{"promo description", block{title: "Holiday", description: "Add to cart now"}, false},
		{"generic title", block{title: "Click here"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isEventBlock(tt.b))
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "hé", truncateRunes("héllo", 2))
	assert.Len(t, []rune(truncateRunes(strings.Repeat("ä", 600), maxDescriptionRunes)), maxDescriptionRunes)
}
