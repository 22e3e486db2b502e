package scraper

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pfrederiksen/events-monitor/internal/event"
	"github.com/pfrederiksen/events-monitor/internal/logger"
)

const (
	// MinContentBytes is the smallest trimmed page that can hold a real listing
	MinContentBytes = 512

	maxDescriptionRunes = 500
)

var (
	promoKeywords = []string{
		"sign up for", "log in to", "create account",
		"newsletter signup", "follow us on", "social media",
		"customer service", "contact us", "store hours",
		"directions to store", "parking information",
		"return policy", "privacy policy", "terms and conditions",
		"shop online", "add to cart", "add to wishlist",
	}

	genericTitles = []string{
		"click here", "read more", "view all details",
		"learn more", "find out more", "discover more",
	}

	// errorTitlePattern recognizes placeholder titles of error pages: a bare
	// status code or error phrase leading the title, or an unambiguous error
	// phrase anywhere in it
	errorTitlePattern = regexp.MustCompile(`(?i)` +
		`^\s*[45]\d{2}(\s*[-:|]?\s*(error|not found|page not found|forbidden|unauthorized|internal server error|service unavailable|bad gateway)\b|\s*$)` +
		`|^\s*(error|access denied|page not found|not found)\s*([-:|!.]|$)` +
		`|\b(page not found|404 not found|403 forbidden|access denied)\b`)

	cardClassPattern = regexp.MustCompile(`(?i)event|card|item`)
)

const (
	headingSelector   = "h1, h2, h3, h4, h5, h6"
	cardSelector      = "div[class], article[class], section[class]"
	cardTitleSelector = "h1, h2, h3, h4, h5, h6, [class*=title], [class*=heading], [class*=name]"
	cardDateSelector  = "time, [class*=date], [class*=when], [datetime]"
	eventLinkSelector = `a[href*="/events/"]`
)

// block is one candidate event before normalization
type block struct {
	id          string
	title       string
	date        string
	description string
	href        string
}

type strategy struct {
	name string
	find func(doc *goquery.Document) []block
}

// Extractor turns raw page content into a Snapshot
type Extractor struct {
	strategies []strategy
}

// NewExtractor creates an Extractor with the default strategy order
func NewExtractor() *Extractor {
	return &Extractor{
		strategies: []strategy{
			{name: "listing", find: listingBlocks},
			{name: "links", find: linkBlocks},
			{name: "cards", find: cardBlocks},
			{name: "text", find: textBlocks},
		},
	}
}

// Extract parses raw HTML. The first strategy that yields at least one record
// wins. A usable page without events returns an empty Snapshot and no error.
func (e *Extractor) Extract(raw []byte, baseURL string, extractedAt time.Time) (event.Snapshot, error) {
	doc, err := usableDocument(raw)
	if err != nil {
		return nil, err
	}

	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	for _, s := range e.strategies {
		records := make([]*event.Record, 0)
		for _, b := range s.find(doc) {
			if !isEventBlock(b) {
				continue
			}
			rec := event.NewRecord(b.id, b.title, b.date, truncateRunes(b.description, maxDescriptionRunes), resolveURL(base, b.href), extractedAt)
			if rec != nil {
				records = append(records, rec)
			}
		}

		if len(records) > 0 {
			snapshot := event.Dedupe(records)
			logger.Debug("Extraction strategy matched", logger.Fields{
				"strategy":   s.name,
				"candidates": len(records),
				"records":    len(snapshot),
			})
			return snapshot, nil
		}
	}

	logger.Debug("No extraction strategy matched", logger.Fields{"bytes": len(raw)})
	return event.Snapshot{}, nil
}

// usableDocument parses raw and rejects content that cannot be a real page
func usableDocument(raw []byte) (*goquery.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < MinContentBytes {
		return nil, &ExtractError{
			Kind:   NoUsableContent,
			Reason: fmt.Sprintf("content too short (%d bytes)", len(trimmed)),
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return nil, &ExtractError{Kind: NoUsableContent, Reason: "parsing HTML", Err: err}
	}
	doc.Find("script, style, noscript, template").Remove()

	title := event.CollapseSpace(doc.Find("title").First().Text())
	if isErrorTitle(title) {
		return nil, &ExtractError{
			Kind:   NoUsableContent,
			Reason: fmt.Sprintf("error page title %q", title),
		}
	}

	if strings.TrimSpace(doc.Find("body").Text()) == "" {
		return nil, &ExtractError{Kind: NoUsableContent, Reason: "no body text"}
	}

	return doc, nil
}

func isErrorTitle(title string) bool {
	return errorTitlePattern.MatchString(title)
}

// listingBlocks reads list items of ul/ol elements labelled as event listings
func listingBlocks(doc *goquery.Document) []block {
	blocks := make([]block, 0)
	doc.Find("ul[aria-label], ol[aria-label]").Each(func(_ int, list *goquery.Selection) {
		label, _ := list.Attr("aria-label")
		if !strings.Contains(strings.ToLower(label), "events") {
			return
		}
		list.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			blocks = append(blocks, listItemBlock(li, "a[href]"))
		})
	})
	return blocks
}

// linkBlocks reads any list item that links to an event page
func linkBlocks(doc *goquery.Document) []block {
	blocks := make([]block, 0)
	doc.Find("li").Each(func(_ int, li *goquery.Selection) {
		if li.Find(eventLinkSelector).Length() == 0 {
			return
		}
		blocks = append(blocks, listItemBlock(li, eventLinkSelector))
	})
	return blocks
}

func listItemBlock(li *goquery.Selection, linkSelector string) block {
	b := block{id: sourceID(li)}

	link := li.Find(linkSelector).First()
	b.href, _ = link.Attr("href")

	b.title = firstText(li.Find(headingSelector))
	if b.title == "" {
		b.title = event.CollapseSpace(link.Text())
	}

	if t := li.Find("time").First(); t.Length() > 0 {
		b.date = event.CollapseSpace(t.Text())
		if b.date == "" {
			b.date, _ = t.Attr("datetime")
		}
	}

	descriptions := make([]string, 0)
	li.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := event.CollapseSpace(p.Text())
		if text == "" {
			return
		}
		if found := event.FindDate(text); found != "" && b.date == "" {
			b.date = found
			if found == text {
				return
			}
		}
		descriptions = append(descriptions, text)
	})
	b.description = strings.Join(descriptions, " ")

	if b.date == "" {
		b.date = event.FindDate(event.CollapseSpace(li.Text()))
	}
	return b
}

// cardBlocks reads div/article/section elements with event-like classes that
// carry a recognizable date. When cards nest, only the innermost dated card counts.
func cardBlocks(doc *goquery.Document) []block {
	blocks := make([]block, 0)
	doc.Find(cardSelector).Each(func(_ int, card *goquery.Selection) {
		if !isDatedCard(card) {
			return
		}
		if card.Find(cardSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
			return isDatedCard(s)
		}).Length() > 0 {
			return
		}

		text := textLines(card)
		b := block{id: sourceID(card), date: cardDate(card)}
		b.href, _ = card.Find("a[href]").First().Attr("href")

		b.title = firstText(card.Find(cardTitleSelector))
		if b.title == "" && len(text) > 0 {
			b.title = strings.TrimSpace(strings.Replace(text[0], b.date, "", 1))
		}

		rest := strings.Replace(strings.Join(text, " "), b.title, "", 1)
		rest = strings.Replace(rest, b.date, "", 1)
		b.description = event.CollapseSpace(rest)

		blocks = append(blocks, b)
	})
	return blocks
}

func isDatedCard(s *goquery.Selection) bool {
	class, _ := s.Attr("class")
	return cardClassPattern.MatchString(class) && cardDate(s) != ""
}

func cardDate(card *goquery.Selection) string {
	if date := firstText(card.Find(cardDateSelector)); date != "" {
		return date
	}
	if dt := card.Find("[datetime]").First(); dt.Length() > 0 {
		if v, _ := dt.Attr("datetime"); strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return event.FindDate(strings.Join(textLines(card), " "))
}

// textBlocks turns every body text line containing a date into a candidate
func textBlocks(doc *goquery.Document) []block {
	blocks := make([]block, 0)
	for _, line := range textLines(doc.Find("body")) {
		date := event.FindDate(line)
		if date == "" {
			continue
		}
		title := strings.Trim(event.CollapseSpace(strings.Replace(line, date, "", 1)), " -–|,:·")
		if len(title) < 3 {
			continue
		}
		blocks = append(blocks, block{title: title, date: date})
	}
	return blocks
}

// isEventBlock drops promotional content and generic link titles
func isEventBlock(b block) bool {
	title := strings.ToLower(b.title)
	description := strings.ToLower(b.description)
	if strings.TrimSpace(title) == "" {
		return false
	}

	for _, keyword := range promoKeywords {
		if strings.Contains(title, keyword) || strings.Contains(description, keyword) {
			return false
		}
	}
	for _, generic := range genericTitles {
		if strings.Contains(title, generic) {
			return false
		}
	}
	return true
}

// sourceID returns an explicit identifier carried by the element, if any
func sourceID(s *goquery.Selection) string {
	for _, attr := range []string{"data-event-id", "data-id", "id"} {
		if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstText(s *goquery.Selection) string {
	var text string
	s.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text = event.CollapseSpace(sel.Text())
		return text == ""
	})
	return text
}

// textLines splits the element text on newlines, dropping blank lines
func textLines(s *goquery.Selection) []string {
	lines := make([]string, 0)
	for _, line := range strings.Split(s.Text(), "\n") {
		if line = event.CollapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// resolveURL makes href absolute against base. Relative links without a base
// and non-navigational links are dropped.
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	if base != nil {
		return base.ResolveReference(u).String()
	}
	if u.IsAbs() {
		return u.String()
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
