package bom

import (
	"errors"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/couchcryptid/bom-stat-service/internal/domain"
)

var (
	errNoRows  = errors.New("no station rows in listing")
	errNoCells = errors.New("station row has fewer than two cells")
	errNoToken = errors.New("station row has no access token")
)

// ParseStationListing extracts the canonical station number and access
// token from the station directory HTML fragment. It reads the first row of
// the first table body: the second cell holds the station number, the last
// cell the token.
func ParseStationListing(r io.Reader) (domain.ResolvedStation, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return domain.ResolvedStation{}, err
	}

	row := firstBodyRow(doc)
	if row == nil {
		return domain.ResolvedStation{}, errNoRows
	}

	cells := rowCells(row)
	if len(cells) < 2 {
		return domain.ResolvedStation{}, errNoCells
	}

	token := strings.TrimSpace(textContent(cells[len(cells)-1]))
	if token == "" {
		return domain.ResolvedStation{}, errNoToken
	}

	return domain.ResolvedStation{
		StationNumber: strings.TrimSpace(textContent(cells[1])),
		AccessToken:   token,
	}, nil
}

// firstBodyRow finds the first <tr> under a <tbody>, in document order.
func firstBodyRow(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Tbody {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Tr {
				return c
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if row := firstBodyRow(c); row != nil {
			return row
		}
	}
	return nil
}

func rowCells(tr *html.Node) []*html.Node {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
			cells = append(cells, c)
		}
	}
	return cells
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}
