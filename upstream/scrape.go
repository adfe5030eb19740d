package upstream

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"github.com/quay/versiontracker"
)

// candidateDateLayouts are the date formats observed on Sonatype
// "Browse" directory listing pages, tried in order.
var candidateDateLayouts = []string{
	"Mon Jan 02 15:04:05 MST 2006",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
}

// backfillReleaseDates implements §4.6 step 6: for every version in
// additionalVersions lacking a releaseDate, scrape the repository's
// directory listing for that version and parse the "Last Modified"
// cell. Failures are per-version and non-fatal.
func (p *HTTPProvider) backfillReleaseDates(ctx context.Context, info *versiontracker.VersionInfo, additionalVersions []string, changed *bool) {
	log := zerolog.Ctx(ctx).With().Str("component", "upstream.HTTPProvider").Logger()
	for _, vs := range additionalVersions {
		v := info.FindVersion(vs)
		if v == nil || v.ReleaseDate != nil {
			continue
		}
		date, err := p.scrapeReleaseDate(ctx, info.Artifact.GroupID, info.Artifact.ArtifactID, vs)
		if err != nil {
			log.Debug().Err(err).Str("version", vs).Msg("release date scrape failed")
			continue
		}
		if date != nil {
			v.ReleaseDate = date
			*changed = true
		}
	}
}

func (p *HTTPProvider) scrapeReleaseDate(ctx context.Context, groupID, artifactID, version string) (*time.Time, error) {
	body, err := p.fetchVersionDirectory(ctx, groupID, artifactID, version)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := html.Parse(body)
	if err != nil {
		return nil, err
	}
	return findLastModified(doc, artifactID, version), nil
}

// findLastModified walks the parsed directory listing looking for a
// table row naming the primary artifact file (artifactId-version.*)
// and returns the parsed date drawn from the row's remaining cells.
func findLastModified(n *html.Node, artifactID, version string) *time.Time {
	prefix := artifactID + "-" + version

	var walkRows func(*html.Node) *time.Time
	walkRows = func(n *html.Node) *time.Time {
		if n.Type == html.ElementNode && n.Data == "tr" {
			if t := rowLastModified(n, prefix); t != nil {
				return t
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if t := walkRows(c); t != nil {
				return t
			}
		}
		return nil
	}
	return walkRows(n)
}

func rowLastModified(tr *html.Node, filePrefix string) *time.Time {
	var cells []string
	hasMatch := false
	for td := tr.FirstChild; td != nil; td = td.NextSibling {
		if td.Type != html.ElementNode || td.Data != "td" {
			continue
		}
		text := cellText(td)
		cells = append(cells, text)
		if hrefContainsPrefix(td, filePrefix) {
			hasMatch = true
		}
	}
	if !hasMatch {
		return nil
	}
	for i := len(cells) - 1; i >= 0; i-- {
		if t := parseAnyDate(strings.TrimSpace(cells[i])); t != nil {
			return t
		}
	}
	return nil
}

func hrefContainsPrefix(td *html.Node, prefix string) bool {
	var found bool
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && strings.Contains(a.Val, prefix) {
					found = true
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(td)
	return found
}

func cellText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func parseAnyDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range candidateDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
