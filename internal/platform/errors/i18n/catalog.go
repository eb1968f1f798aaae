// Package i18n provides internationalization support for error messages.
package i18n

import (
	"bytes"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BaseLocale is the fallback locale for every lookup.
const BaseLocale = "en-US"

// Code is a machine-readable error code (duplicated from errors package to avoid cycle).
type Code = string

// Catalog maps error codes to message templates for a specific locale.
type Catalog struct {
	locale   string
	tag      language.Tag
	messages map[Code]string
}

var (
	catalogsMu sync.RWMutex
	// catalogs holds built-in and registered catalogs by locale.
	catalogs = map[string]*Catalog{
		BaseLocale: NewCatalog(BaseLocale, enUS),
		"pt-BR":    NewCatalog("pt-BR", ptBR),
	}
)

// GetCatalog returns the catalog that best matches the given locale.
// Falls back to en-US if nothing matches.
func GetCatalog(locale string) *Catalog {
	requested := strings.TrimSpace(locale)
	if requested == "" {
		requested = BaseLocale
	}
	if c, ok := lookupCatalog(requested); ok {
		return c
	}

	tag, err := language.Parse(requested)
	if err != nil {
		c, _ := lookupCatalog(BaseLocale)
		return c
	}

	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	supported := make([]language.Tag, 0, len(catalogs))
	byTag := make([]*Catalog, 0, len(catalogs))
	// The base locale goes first so the matcher falls back to it.
	supported = append(supported, catalogs[BaseLocale].tag)
	byTag = append(byTag, catalogs[BaseLocale])
	for name, c := range catalogs {
		if name == BaseLocale {
			continue
		}
		supported = append(supported, c.tag)
		byTag = append(byTag, c)
	}
	_, index, confidence := language.NewMatcher(supported).Match(tag)
	if confidence == language.No {
		return catalogs[BaseLocale]
	}
	return byTag[index]
}

// Locale returns the locale of this catalog.
func (c *Catalog) Locale() string {
	return c.locale
}

// Format renders the message template with the given metadata.
// Falls back to the error code itself if no template is found.
// Templates are always executed even with nil/empty metadata so that
// variables without metadata render consistently.
func (c *Catalog) Format(code Code, metadata map[string]string) string {
	tmpl, ok := c.messages[code]
	if !ok {
		return code
	}
	if metadata == nil {
		metadata = map[string]string{}
	}

	t, err := template.New("msg").Funcs(template.FuncMap{
		"number": c.formatNumber,
	}).Parse(tmpl)
	if err != nil {
		return tmpl
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, metadata); err != nil {
		return tmpl
	}
	return buf.String()
}

// formatNumber renders a numeric metadata value with locale separators.
func (c *Catalog) formatNumber(raw string) string {
	var n int64
	for _, r := range raw {
		if r < '0' || r > '9' {
			return raw
		}
		n = n*10 + int64(r-'0')
	}
	return message.NewPrinter(c.tag).Sprintf("%d", n)
}

// RegisterCatalog registers a new catalog for the given locale.
func RegisterCatalog(locale string, cat *Catalog) {
	catalogsMu.Lock()
	defer catalogsMu.Unlock()
	catalogs[locale] = cat
}

// NewCatalog creates a new catalog with the given locale and messages.
func NewCatalog(locale string, messages map[Code]string) *Catalog {
	cloned := make(map[Code]string, len(messages))
	for key, value := range messages {
		cloned[key] = value
	}
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.Und
	}
	return &Catalog{
		locale:   locale,
		tag:      tag,
		messages: cloned,
	}
}

func lookupCatalog(locale string) (*Catalog, bool) {
	catalogsMu.RLock()
	defer catalogsMu.RUnlock()
	cat, ok := catalogs[locale]
	return cat, ok
}
