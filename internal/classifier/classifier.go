// ABOUTME: Keyword classifier that maps free-form complaint text to a claim category
// ABOUTME: Pure and deterministic: exact substring hits score 1, partial token overlaps 0.5

package classifier

import (
	"strings"
	"unicode"
)

// Category is the kind of consumer claim a conversation is about.
type Category string

const (
	CategoryUtilities    Category = "service-utilities"
	CategoryTelecom      Category = "telecom"
	CategoryAirTransport Category = "air-transport"
	CategoryUnknown      Category = "unknown"
)

// Known reports whether c is a concrete category (not empty, not unknown).
func (c Category) Known() bool {
	return c != "" && c != CategoryUnknown
}

// Threshold is the minimum winning score for a concrete category.
const Threshold = 1.0

// minPartialLen keeps short function words ("a", "de", "la") from matching inside keywords.
const minPartialLen = 3

// Result is the outcome of classifying a piece of text.
type Result struct {
	Category   Category             `json:"category"`
	Confidence float64              `json:"confidence"`
	Scores     map[Category]float64 `json:"scores"`
}

// KeywordSet pairs a category with the keywords that vote for it.
type KeywordSet struct {
	Category Category
	Keywords []string
}

// DefaultKeywords is the built-in table. Declaration order breaks ties.
var DefaultKeywords = []KeywordSet{
	{
		Category: CategoryUtilities,
		Keywords: []string{
			"luz", "agua", "gas", "electricidad", "eléctrica", "electrica",
			"factura", "medidor", "contador", "suministro", "recibo",
			"energía", "energia", "apagón", "apagon",
		},
	},
	{
		Category: CategoryTelecom,
		Keywords: []string{
			"internet", "teléfono", "telefono", "móvil", "movil", "celular",
			"fibra", "señal", "senal", "línea", "linea", "wifi", "router",
			"cobertura", "operador", "datos",
		},
	},
	{
		Category: CategoryAirTransport,
		Keywords: []string{
			"vuelo", "aerolínea", "aerolinea", "equipaje", "maleta",
			"aeropuerto", "embarque", "billete", "pasaje", "overbooking",
			"escala", "avión", "avion",
		},
	},
}

// Classifier scores text against a fixed keyword table.
type Classifier struct {
	sets []KeywordSet
}

// New returns a classifier over sets. A nil or empty table uses DefaultKeywords.
func New(sets []KeywordSet) *Classifier {
	if len(sets) == 0 {
		sets = DefaultKeywords
	}
	normalized := make([]KeywordSet, len(sets))
	for i, s := range sets {
		kws := make([]string, 0, len(s.Keywords))
		for _, kw := range s.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				kws = append(kws, kw)
			}
		}
		normalized[i] = KeywordSet{Category: s.Category, Keywords: kws}
	}
	return &Classifier{sets: normalized}
}

// Classify returns the best category for text. Scores below Threshold yield
// CategoryUnknown; empty text yields CategoryUnknown with zero confidence.
func (c *Classifier) Classify(text string) Result {
	scores := make(map[Category]float64, len(c.sets))
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Result{Category: CategoryUnknown, Scores: scores}
	}

	tokens := tokenize(text)
	best := CategoryUnknown
	bestScore := 0.0
	for _, set := range c.sets {
		score := 0.0
		for _, kw := range set.Keywords {
			score += keywordScore(text, tokens, kw)
		}
		scores[set.Category] = score
		// Strict comparison keeps the earliest declared category on ties.
		if score > bestScore {
			best = set.Category
			bestScore = score
		}
	}

	if bestScore < Threshold {
		return Result{Category: CategoryUnknown, Confidence: bestScore, Scores: scores}
	}
	return Result{Category: best, Confidence: bestScore, Scores: scores}
}

func keywordScore(text string, tokens []string, kw string) float64 {
	if strings.Contains(text, kw) {
		return 1
	}
	for _, tok := range tokens {
		if len(tok) < minPartialLen {
			continue
		}
		if strings.Contains(tok, kw) || strings.Contains(kw, tok) {
			return 0.5
		}
	}
	return 0
}

func tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
