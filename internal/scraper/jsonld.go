package scraper

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// structuredData is what the page declares about itself in JSON-LD and
// microdata.
type structuredData struct {
	present      bool
	types        map[string]bool
	author       string
	dateModified string
}

func (sd structuredData) hasType(t string) bool {
	return sd.types[strings.ToLower(t)]
}

// extractJSONLD parses every <script type="application/ld+json"> block,
// including @graph containers and top-level arrays, and microdata itemtypes.
// Malformed blocks are skipped.
func extractJSONLD(doc *goquery.Document) structuredData {
	sd := structuredData{types: make(map[string]bool)}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		sd.present = true
		sd.walk(data)
	})

	doc.Find("[itemscope][itemtype]").Each(func(_ int, sel *goquery.Selection) {
		itemType, _ := sel.Attr("itemtype")
		sd.present = true
		if i := strings.LastIndex(itemType, "/"); i >= 0 {
			itemType = itemType[i+1:]
		}
		sd.types[strings.ToLower(strings.TrimSpace(itemType))] = true
	})
	return sd
}

func (sd *structuredData) walk(v any) {
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			sd.walk(item)
		}
	case map[string]any:
		for _, t := range stringOrList(node["@type"]) {
			sd.types[strings.ToLower(t)] = true
		}
		if sd.author == "" {
			sd.author = authorName(node["author"])
		}
		if sd.dateModified == "" {
			if s, ok := node["dateModified"].(string); ok {
				sd.dateModified = strings.TrimSpace(s)
			}
		}
		for key, child := range node {
			if key == "@context" {
				continue
			}
			switch child.(type) {
			case map[string]any, []any:
				sd.walk(child)
			}
		}
	}
}

func stringOrList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func authorName(v any) string {
	switch a := v.(type) {
	case string:
		return strings.TrimSpace(a)
	case map[string]any:
		if name, ok := a["name"].(string); ok {
			return strings.TrimSpace(name)
		}
	case []any:
		for _, item := range a {
			if name := authorName(item); name != "" {
				return name
			}
		}
	}
	return ""
}
