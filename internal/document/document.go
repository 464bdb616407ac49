// ABOUTME: Formatting of drafted claims into chat text, Markdown and HTML
// ABOUTME: HTML is rendered from the Markdown with goldmark

package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/conversation"
)

// CategoryTitle is the human label of a category used in headings.
func CategoryTitle(c classifier.Category) string {
	switch c {
	case classifier.CategoryUtilities:
		return "Suministros"
	case classifier.CategoryTelecom:
		return "Telecomunicaciones"
	case classifier.CategoryAirTransport:
		return "Transporte aéreo"
	default:
		return "General"
	}
}

// Text formats d as a single chat message: company, reference, numbered
// facts and petition.
func Text(d *collab.Draft) string {
	var b strings.Builder
	b.WriteString("*RECLAMACIÓN*\n\n")
	fmt.Fprintf(&b, "*Empresa:* %s\n", orDash(d.CompanyName))
	fmt.Fprintf(&b, "*Referencia:* %s\n", orDash(d.Reference))
	if len(d.Facts) > 0 {
		b.WriteString("\n*Hechos:*\n")
		for i, f := range d.Facts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(f))
		}
	}
	if p := strings.TrimSpace(d.Petition); p != "" {
		b.WriteString("\n*Petición:*\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Markdown renders the full claim document.
func Markdown(d *collab.Draft, category classifier.Category, customer conversation.CustomerProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Reclamación: %s\n\n", CategoryTitle(category))
	fmt.Fprintf(&b, "**Empresa:** %s  \n", orDash(d.CompanyName))
	fmt.Fprintf(&b, "**Referencia:** %s\n\n", orDash(d.Reference))

	if customer.Name != "" || customer.Phone != "" || customer.Email != "" {
		b.WriteString("## Reclamante\n\n")
		if customer.Name != "" {
			fmt.Fprintf(&b, "- Nombre: %s\n", customer.Name)
		}
		if customer.Phone != "" {
			fmt.Fprintf(&b, "- Teléfono: %s\n", customer.Phone)
		}
		if customer.Email != "" {
			fmt.Fprintf(&b, "- Correo: %s\n", customer.Email)
		}
		b.WriteString("\n")
	}

	if len(d.Facts) > 0 {
		b.WriteString("## Hechos\n\n")
		for i, f := range d.Facts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(f))
		}
		b.WriteString("\n")
	}
	if p := strings.TrimSpace(d.Petition); p != "" {
		b.WriteString("## Petición\n\n")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// HTML converts Markdown to HTML. Raw HTML in the input is not passed through.
func HTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

func orDash(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return "-"
	}
	return s
}
