package testutil

import (
	"fmt"
	"html"
	"strings"
)

type ShelfRow struct {
	// Position is written as is so tests can produce malformed rows.
	Position string
	Title    string
	Href     string
}

// ShelfPage renders a reading list page. When `pagerLabels` is empty the page
// has no pagination menu.
func ShelfPage(rows []ShelfRow, pagerLabels ...string) string {
	var out strings.Builder
	out.WriteString("<html><body><div id=\"rightCol\">\n")
	if len(pagerLabels) > 0 {
		out.WriteString("<div id=\"reviewPagination\">\n")
		for i, label := range pagerLabels {
			if i == 0 {
				out.WriteString(fmt.Sprintf("<em class=\"current\">%s</em>\n", html.EscapeString(label)))
				continue
			}
			out.WriteString(fmt.Sprintf(
				"<a href=\"?page=%d&amp;shelf=to-read\">%s</a>\n",
				i+1, html.EscapeString(label),
			))
		}
		out.WriteString("</div>\n")
	}

	out.WriteString("<table id=\"books\"><tbody id=\"booksBody\">\n")
	for _, row := range rows {
		out.WriteString("<tr class=\"bookalike review\">\n")
		if row.Position != "" {
			out.WriteString(fmt.Sprintf(
				"<td class=\"field position\"><label>#</label><div class=\"value\">\n  %s\n</div></td>\n",
				html.EscapeString(row.Position),
			))
		}
		out.WriteString("<td class=\"field title\"><label>title</label><div class=\"value\">")
		if row.Href != "" {
			out.WriteString(fmt.Sprintf(
				"<a title=\"%s\" href=\"%s\">\n      %s\n</a>",
				html.EscapeString(row.Title), html.EscapeString(row.Href), html.EscapeString(row.Title),
			))
		}
		out.WriteString("</div></td>\n</tr>\n")
	}
	out.WriteString("</tbody></table>\n</div></body></html>")
	return out.String()
}

type BookFixture struct {
	Title    string
	Author   string
	Summary  string
	CoverSrc string
}

// BookPage renders a book detail page, empty fields are left out of the page.
func BookPage(book BookFixture) string {
	var out strings.Builder
	out.WriteString("<html><body><main>\n")
	if book.Title != "" {
		out.WriteString(fmt.Sprintf("<h1 class=\"Text Text__title1\" data-testid=\"bookTitle\">%s</h1>\n", html.EscapeString(book.Title)))
	}
	if book.Author != "" {
		out.WriteString(fmt.Sprintf(
			"<a class=\"ContributorLink\" href=\"/author/show/1\"><span class=\"ContributorLink__name\" data-testid=\"name\">%s</span></a>\n",
			html.EscapeString(book.Author),
		))
	}
	if book.Summary != "" {
		out.WriteString(fmt.Sprintf(
			"<div class=\"DetailsLayoutRightParagraph\"><span class=\"Formatted\">%s</span></div>\n",
			html.EscapeString(book.Summary),
		))
	}
	if book.CoverSrc != "" {
		out.WriteString(fmt.Sprintf("<img class=\"ResponsiveImage\" role=\"presentation\" src=\"%s\">\n", html.EscapeString(book.CoverSrc)))
	}
	out.WriteString("</main></body></html>")
	return out.String()
}

// PNG is a 1x1 transparent png.
var PNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0a, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
