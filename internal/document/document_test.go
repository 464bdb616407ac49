// ABOUTME: Tests for claim formatting
// ABOUTME: Checks the chat layout, Markdown sections and HTML rendering

package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/reclama-gateway/internal/classifier"
	"github.com/2389/reclama-gateway/internal/collab"
	"github.com/2389/reclama-gateway/internal/conversation"
)

func sampleDraft() *collab.Draft {
	return &collab.Draft{
		CompanyName: "Movistar",
		Reference:   "CLI-123",
		Facts:       []string{"Corte de fibra el 2 de marzo", " Sin servicio durante 3 días "},
		Petition:    "Compensación por los días sin servicio",
	}
}

func TestText(t *testing.T) {
	got := Text(sampleDraft())
	want := "*RECLAMACIÓN*\n\n" +
		"*Empresa:* Movistar\n" +
		"*Referencia:* CLI-123\n\n" +
		"*Hechos:*\n" +
		"1. Corte de fibra el 2 de marzo\n" +
		"2. Sin servicio durante 3 días\n\n" +
		"*Petición:*\n" +
		"Compensación por los días sin servicio"
	assert.Equal(t, want, got)
}

func TestText_MissingFields(t *testing.T) {
	got := Text(&collab.Draft{})
	assert.Equal(t, "*RECLAMACIÓN*\n\n*Empresa:* -\n*Referencia:* -", got)
}

func TestMarkdownAndHTML(t *testing.T) {
	md := Markdown(sampleDraft(), classifier.CategoryTelecom, conversation.CustomerProfile{Name: "Lucía", Phone: "34600111222"})
	assert.Contains(t, md, "# Reclamación: Telecomunicaciones")
	assert.Contains(t, md, "- Nombre: Lucía")
	assert.NotContains(t, md, "Correo")
	assert.Contains(t, md, "2. Sin servicio durante 3 días")

	html, err := HTML(md)
	require.NoError(t, err)
	assert.Contains(t, html, "<h1>Reclamación: Telecomunicaciones</h1>")
	assert.Contains(t, html, "<li>Corte de fibra el 2 de marzo</li>")
}

func TestHTML_DropsRawHTML(t *testing.T) {
	html, err := HTML("hola <script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
}

func TestCategoryTitle(t *testing.T) {
	assert.Equal(t, "Suministros", CategoryTitle(classifier.CategoryUtilities))
	assert.Equal(t, "Transporte aéreo", CategoryTitle(classifier.CategoryAirTransport))
	assert.Equal(t, "General", CategoryTitle(classifier.CategoryUnknown))
}
