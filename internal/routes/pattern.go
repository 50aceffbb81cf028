// Package routes holds the compiled path patterns and the registry of every
// route the surrounding API layer exposes. Patterns are always derived from
// URL templates; a pattern transported across a process boundary is
// recompiled here rather than trusted.
package routes

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled URL template. Two compilations of the same template
// produce patterns matching the same set of paths, so recompiling after
// transport is always safe.
type Pattern struct {
	template string
	re       *regexp.Regexp
}

// Compile turns a URL template into a matchable pattern. Path parameter
// segments (":id") match any single non-empty segment. The template must
// not carry a query string.
func Compile(urlTemplate string) (Pattern, error) {
	template := strings.TrimSpace(urlTemplate)
	if template == "" {
		return Pattern{}, fmt.Errorf("url template is empty")
	}
	if strings.Contains(template, "?") {
		return Pattern{}, fmt.Errorf("url template %q must not contain a query string", template)
	}
	if !strings.HasPrefix(template, "/") {
		template = "/" + template
	}

	var b strings.Builder
	b.WriteString("^")
	for _, segment := range strings.Split(strings.Trim(template, "/"), "/") {
		if segment == "" {
			continue
		}
		b.WriteString("/")
		if strings.HasPrefix(segment, ":") {
			b.WriteString("([^/]+)")
			continue
		}
		b.WriteString(regexp.QuoteMeta(segment))
	}
	if b.Len() == 1 {
		// template was "/"
		b.WriteString("/")
	}
	b.WriteString("/?$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return Pattern{}, fmt.Errorf("compile %q: %w", template, err)
	}
	return Pattern{template: template, re: re}, nil
}

// MustCompile is Compile for templates known at build time.
func MustCompile(urlTemplate string) Pattern {
	p, err := Compile(urlTemplate)
	if err != nil {
		panic(err)
	}
	return p
}

// Match reports whether the concrete request path matches the pattern.
// Query strings are stripped before matching; a RouteSpec never carries one.
func (p Pattern) Match(path string) bool {
	if p.re == nil {
		return false
	}
	path = StripQuery(path)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return p.re.MatchString(path)
}

// Template returns the URL template the pattern was compiled from.
func (p Pattern) Template() string { return p.template }

// Source returns the regexp source. It is derived output only: consumers
// re-derive patterns from the template instead of parsing this back.
func (p Pattern) Source() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

// StripQuery removes the query string from a request path.
func StripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
