package feed

import (
	"encoding/xml"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/podscope/podscope/pkg/domain"
)

// ParseError indicates the document root could not be parsed as a feed.
// Per-item malformed fields degrade to defaults and never produce this error.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse feed: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// pubDateFormats are tried in order. A date that matches none of them yields
// a zero time, an explicit "unknown" distinct from the current time. The
// refresh filter depends on this sentinel, so no now-fallback here, ever.
var pubDateFormats = []string{
	time.RFC1123Z, // Mon, 02 Jan 2006 15:04:05 -0700
	time.RFC1123,  // Mon, 02 Jan 2006 15:04:05 MST
	time.RFC3339,  // 2006-01-02T15:04:05Z07:00
}

// Parser converts raw RSS bytes into a domain.Feed. It tolerates missing and
// unknown elements: unrecognized subtrees are skipped by depth counting, and
// namespaced extensions (itunes:duration, podcast:chapters, content:encoded)
// are matched by local-name suffix regardless of prefix.
type Parser struct{}

// NewParser creates a feed parser
func NewParser() *Parser { return &Parser{} }

// Parse reads the entire input and returns the canonical feed structure.
// It fails only when no channel element can be found or the document root
// is not well-formed enough to tokenize.
func (p *Parser) Parse(r io.Reader) (*domain.Feed, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = false

	var result *domain.Feed
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if localName(start.Name) == "channel" {
			f, err := p.parseChannel(dec)
			if err != nil {
				return nil, &ParseError{Err: err}
			}
			result = f
			continue // keep draining the rest of the input
		}
		// descend into wrapper elements (rss, rdf) looking for the channel
	}

	if result == nil {
		return nil, &ParseError{Err: errors.New("no channel element found")}
	}
	return result, nil
}

// parseChannel consumes tokens until the channel end tag
func (p *Parser) parseChannel(dec *xml.Decoder) (*domain.Feed, error) {
	feed := &domain.Feed{}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			depth--
		case xml.StartElement:
			if depth != 1 {
				depth++
				continue
			}
			switch localName(t.Name) {
			case "title":
				if v := readText(dec); v != "" && feed.Title == "" {
					feed.Title = v
				}
			case "description":
				if v := readText(dec); v != "" {
					feed.Description = v
				}
			case "link":
				if v := readText(dec); v != "" {
					feed.Link = v
				}
			case "image":
				if url := parseImage(dec, t); url != "" {
					feed.ImageURL = url
				}
			case "item":
				feed.Items = append(feed.Items, parseItem(dec))
			default:
				skipElement(dec)
			}
		}
	}
	return feed, nil
}

// parseItem consumes tokens until the item end tag, collecting known fields
// and skipping everything else. Malformed field values degrade to defaults.
func parseItem(dec *xml.Decoder) domain.Item {
	item := domain.Item{}
	var plain, summary, rich string

	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break // truncated item, keep what we have
		}
		switch t := tok.(type) {
		case xml.EndElement:
			depth--
		case xml.StartElement:
			if depth != 1 {
				depth++
				continue
			}
			switch localName(t.Name) {
			case "title":
				// itunes:title matches the same suffix, keep first non-empty
				if v := readText(dec); v != "" && item.Title == "" {
					item.Title = v
				}
			case "guid":
				if v := readText(dec); v != "" {
					item.GUID = v
				}
			case "link":
				// atom:link is self-closing and yields no text, skip it
				if v := readText(dec); v != "" {
					item.Link = v
				}
			case "description":
				plain = readText(dec)
			case "summary":
				summary = readText(dec)
			case "encoded":
				rich = readText(dec)
			case "enclosure":
				item.EnclosureURL = attrValue(t, "url")
				item.EnclosureType = attrValue(t, "type")
				item.EnclosureLength = parseLength(attrValue(t, "length"))
				skipElement(dec)
			case "pubDate", "date":
				item.PublishedAt = parsePubDate(readText(dec))
			case "duration":
				item.Duration = ParseDuration(readText(dec))
			case "image":
				if url := parseImage(dec, t); url != "" {
					item.ImageURL = url
				}
			case "chapters":
				if url := attrValue(t, "url"); url != "" {
					item.ChaptersURL = url
				}
				skipElement(dec)
			default:
				skipElement(dec)
			}
		}
	}

	// show notes priority: rich embedded content > summary tag > description
	switch {
	case strings.TrimSpace(rich) != "":
		item.Description = strings.TrimSpace(rich)
	case strings.TrimSpace(summary) != "":
		item.Description = strings.TrimSpace(summary)
	default:
		item.Description = strings.TrimSpace(plain)
	}

	return item
}

// parseImage handles both itunes-style <image href="..."/> and the rss
// <image><url>...</url></image> form
func parseImage(dec *xml.Decoder, start xml.StartElement) string {
	if href := attrValue(start, "href"); href != "" {
		skipElement(dec)
		return href
	}

	var url string
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.EndElement:
			depth--
		case xml.StartElement:
			if depth == 1 && localName(t.Name) == "url" {
				url = readText(dec)
				continue
			}
			depth++
		}
	}
	return url
}

// readText collects character data up to the matching end tag, flattening
// any nested markup
func readText(dec *xml.Decoder) string {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
	return strings.TrimSpace(sb.String())
}

// skipElement discards the current element's subtree by enter/exit counting
func skipElement(dec *xml.Decoder) {
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

// localName returns the element name without any namespace prefix, covering
// both resolved namespaces and undeclared prefixes left in the local part
func localName(n xml.Name) string {
	if i := strings.LastIndex(n.Local, ":"); i >= 0 {
		return n.Local[i+1:]
	}
	return n.Local
}

func attrValue(e xml.StartElement, name string) string {
	for _, a := range e.Attr {
		if localName(a.Name) == name {
			return a.Value
		}
	}
	return ""
}

// parsePubDate tries the known formats in order and returns the zero time
// when none matches or the value is empty
func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, format := range pubDateFormats {
		if ts, err := time.Parse(format, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// parseLength parses an enclosure byte length, treating anything
// non-numeric as absent
func parseLength(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ParseDuration converts SS, MM:SS or HH:MM:SS strings to seconds.
// Invalid strings yield 0, never an error.
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return 0
		}
		total = total*60 + v
	}
	return total
}
