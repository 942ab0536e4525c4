// Package seo renders the HTML head fragment for a public page.
package seo

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/html"

	"github.com/foxzi/pageforge/internal/models"
)

const descriptionLimit = 160

const headTemplate = `
<title>{{.Title}}</title>
{{if .Description}}<meta name="description" content="{{.Description}}">{{end}}
{{if .Keywords}}<meta name="keywords" content="{{.Keywords}}">{{end}}
<meta property="og:type" content="website">
{{if .SiteName}}<meta property="og:site_name" content="{{.SiteName}}">{{end}}
<meta property="og:title" content="{{.Title}}">
{{if .Description}}<meta property="og:description" content="{{.Description}}">{{end}}
{{if .Image}}<meta property="og:image" content="{{.Image}}">{{end}}
{{if .URL}}<link rel="canonical" href="{{.URL}}">{{end}}
`

// Head holds the values rendered into the fragment
type Head struct {
	Title       string
	Description string
	Keywords    string
	Image       string
	SiteName    string
	URL         string
}

// Renderer builds minified head fragments
type Renderer struct {
	tmpl     *template.Template
	minifier *minify.M
	siteName string
	baseURL  string
}

// NewRenderer creates a renderer. baseURL, when set, is used for canonical links.
func NewRenderer(siteName, baseURL string) *Renderer {
	m := minify.New()
	m.Add("text/html", &html.Minifier{KeepQuotes: true})

	return &Renderer{
		tmpl:     template.Must(template.New("head").Parse(headTemplate)),
		minifier: m,
		siteName: strings.TrimSpace(siteName),
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// HeadFor derives head values from a normalised layout
func (r *Renderer) HeadFor(l *models.Layout) Head {
	title := strings.TrimSpace(l.Metadata.Title)
	if title == "" {
		title = strings.TrimSpace(l.Title)
	}
	h := Head{
		Title:       title,
		Description: Description(l.Metadata.Description, ""),
		Keywords:    strings.TrimSpace(l.Metadata.Keywords),
		Image:       strings.TrimSpace(l.Metadata.OGImage),
		SiteName:    r.siteName,
	}
	if r.baseURL != "" && l.Slug != "" {
		h.URL = r.baseURL + "/" + l.Slug
	}
	return h
}

// Render writes the minified head fragment for l
func (r *Renderer) Render(l *models.Layout) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, r.HeadFor(l)); err != nil {
		return nil, fmt.Errorf("render head: %w", err)
	}
	out, err := r.minifier.Bytes("text/html", buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("minify head: %w", err)
	}
	return out, nil
}

// Description collapses whitespace and truncates to a length search engines show
func Description(summary, fallback string) string {
	text := strings.TrimSpace(summary)
	if text == "" {
		text = strings.TrimSpace(fallback)
	}
	if text == "" {
		return ""
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= descriptionLimit {
		return text
	}
	return string(runes[:descriptionLimit-1]) + "..."
}
