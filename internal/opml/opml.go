// Package opml handles importing and exporting ingest source lists as OPML.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/bryan-buckman/feedpool/internal/model"
)

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single outline element (group or source).
type Outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []Outline `xml:"outline,omitempty"`
}

// SourceEntry is a flattened source with its group path joined by "/".
type SourceEntry struct {
	Group string // e.g. "partners/anime"
	Title string
	URL   string
}

// Parse reads an OPML document and returns a flat list of SourceEntry.
func Parse(r io.Reader) ([]SourceEntry, error) {
	var doc OPML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}
	var entries []SourceEntry
	var walk func(outlines []Outline, path []string)
	walk = func(outlines []Outline, path []string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				if title == "" {
					title = o.XMLURL
				}
				entries = append(entries, SourceEntry{
					Group: strings.Join(path, "/"),
					Title: title,
					URL:   o.XMLURL,
				})
			} else if len(o.Outlines) > 0 {
				name := o.Text
				if name == "" {
					name = o.Title
				}
				walk(o.Outlines, append(path[:len(path):len(path)], name))
			}
		}
	}
	walk(doc.Body.Outlines, nil)
	return entries, nil
}

// Export renders sources as an OPML document with one outline per group.
// Output order is deterministic: groups and sources sorted by name.
func Export(title string, sources []model.IngestSource, now time.Time) ([]byte, error) {
	doc := OPML{
		Version: "2.0",
		Head: Head{
			Title:       title,
			DateCreated: now.Format(time.RFC1123Z),
		},
	}

	groups := make(map[string][]Outline)
	for _, s := range sources {
		groups[s.Group] = append(groups[s.Group], Outline{
			Text:   s.Title,
			Title:  s.Title,
			Type:   "rss",
			XMLURL: s.URL,
		})
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var root []Outline
	for _, name := range names {
		outlines := groups[name]
		sort.Slice(outlines, func(i, j int) bool { return outlines[i].Title < outlines[j].Title })
		if name == "" {
			root = append(root, outlines...)
			continue
		}
		root = append(root, Outline{Text: name, Title: name, Outlines: outlines})
	}
	doc.Body.Outlines = root

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), output...), nil
}
