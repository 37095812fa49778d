// Package render turns named text templates with {key} placeholders into
// outbound messages.
package render

import (
	"fmt"
	"sort"
	"strings"
)

// FallbackTemplate is rendered whenever a requested template is undefined.
const FallbackTemplate = "fallback"

const defaultFallback = "Извините, я не понял вопрос."

// MissingError lists placeholders a strict render could not resolve.
type MissingError struct {
	Template string
	Keys     []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("template %q: unresolved placeholders %s", e.Template, strings.Join(e.Keys, ", "))
}

type Renderer struct {
	templates map[string]string
}

// New copies templates; later changes to the map are not observed.
func New(templates map[string]string) *Renderer {
	t := make(map[string]string, len(templates))
	for k, v := range templates {
		t[k] = v
	}
	return &Renderer{templates: t}
}

// Has reports whether name is defined.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render fills the named template from vars. Unknown placeholders stay in the
// output literally and an undefined template renders the fallback instead.
func (r *Renderer) Render(name string, vars map[string]string) string {
	out, _ := Fill(r.lookup(name), vars)
	return out
}

// RenderStrict is Render that reports unresolved placeholders as a
// *MissingError alongside the partially rendered text.
func (r *Renderer) RenderStrict(name string, vars map[string]string) (string, error) {
	out, missing := Fill(r.lookup(name), vars)
	if len(missing) > 0 {
		return out, &MissingError{Template: name, Keys: missing}
	}
	return out, nil
}

func (r *Renderer) lookup(name string) string {
	if t, ok := r.templates[name]; ok {
		return t
	}
	if t, ok := r.templates[FallbackTemplate]; ok {
		return t
	}
	return defaultFallback
}

// Fill substitutes every {key} in tmpl that has a value in vars, in a single
// pass. Substituted values are never scanned again. The sorted, de-duplicated
// list of keys without a value is returned alongside the text.
func Fill(tmpl string, vars map[string]string) (string, []string) {
	var b strings.Builder
	b.Grow(len(tmpl))

	seen := map[string]bool{}
	var missing []string

	rest := tmpl
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[open+1:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		key := rest[open+1 : open+1+end]
		if !validKey(key) {
			// Not a placeholder; emit the brace and keep scanning after it.
			b.WriteString(rest[:open+1])
			rest = rest[open+1:]
			continue
		}

		b.WriteString(rest[:open])
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(rest[open : open+end+2])
			if !seen[key] {
				seen[key] = true
				missing = append(missing, key)
			}
		}
		rest = rest[open+end+2:]
	}

	sort.Strings(missing)
	return b.String(), missing
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for _, r := range key {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
