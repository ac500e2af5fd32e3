// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize implements the allow-list HTML sanitizer required by
// ingestion (§4.1): disallowed tags and attributes are stripped, URL
// schemes are restricted, and every anchor is rewritten to open safely in
// a new tab.
package sanitize

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var disallowedTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Iframe: true,
	atom.Object: true,
	atom.Embed:  true,
	atom.Form:   true,
	atom.Style:  true,
	atom.Link:   true,
	atom.Meta:   true,
	atom.Base:   true,
}

var allowedURLSchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"mailto": true,
}

// allowedCSSProps is the allow-list of CSS properties permitted in a
// style="..." attribute; values must additionally match a conservative
// pattern for that property.
var allowedCSSProps = map[string]*regexp.Regexp{
	"color":            regexp.MustCompile(`^#?[a-zA-Z0-9(), .%]+$`),
	"background-color": regexp.MustCompile(`^#?[a-zA-Z0-9(), .%]+$`),
	"font-size":        regexp.MustCompile(`^[0-9]+(px|pt|em|rem|%)$`),
	"font-weight":      regexp.MustCompile(`^(normal|bold|[0-9]{3})$`),
	"text-align":       regexp.MustCompile(`^(left|right|center|justify)$`),
	"padding":          regexp.MustCompile(`^[0-9]+(px|pt|em|rem|%)(\s[0-9]+(px|pt|em|rem|%)){0,3}$`),
	"margin":           regexp.MustCompile(`^[0-9]+(px|pt|em|rem|%)(\s[0-9]+(px|pt|em|rem|%)){0,3}$`),
	"width":            regexp.MustCompile(`^[0-9]+(px|pt|em|rem|%)$`),
	"max-width":        regexp.MustCompile(`^[0-9]+(px|pt|em|rem|%)$`),
	"border":           regexp.MustCompile(`^[0-9]+px\s(solid|dashed|dotted)\s#?[a-zA-Z0-9]+$`),
}

var eventHandlerPrefix = "on"

// Sanitize walks the parsed HTML document and rebuilds it with
// disallowed elements, event-handler attributes and unsafe URL schemes
// removed, and anchors rewritten with target="_blank" rel="noopener noreferrer".
func Sanitize(input string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(input), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for _, n := range nodes {
		sanitizeNode(n)
		if n.Type != html.ErrorNode {
			_ = html.Render(&buf, n)
		}
	}
	return buf.String(), nil
}

// sanitizeNode mutates n's children in place, unlinking disallowed
// elements and scrubbing attributes on the ones that remain.
func sanitizeNode(n *html.Node) {
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && disallowedTags[c.DataAtom] {
			n.RemoveChild(c)
			continue
		}
		if c.Type == html.ElementNode {
			scrubAttrs(c)
			if c.DataAtom == atom.A {
				rewriteAnchor(c)
			}
		}
		sanitizeNode(c)
	}
}

func scrubAttrs(n *html.Node) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		lower := strings.ToLower(a.Key)
		if strings.HasPrefix(lower, eventHandlerPrefix) {
			continue
		}
		if lower == "href" || lower == "src" {
			if !isSafeURL(a.Val) {
				continue
			}
		}
		if lower == "style" {
			a.Val = sanitizeStyle(a.Val)
			if a.Val == "" {
				continue
			}
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

func isSafeURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "/") {
		return true
	}
	idx := strings.Index(raw, ":")
	if idx < 0 {
		return true
	}
	scheme := strings.ToLower(raw[:idx])
	return allowedURLSchemes[scheme]
}

func sanitizeStyle(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 {
			continue
		}
		prop := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		re, ok := allowedCSSProps[prop]
		if !ok || !re.MatchString(val) {
			continue
		}
		kept = append(kept, prop+": "+val)
	}
	return strings.Join(kept, "; ")
}

func rewriteAnchor(n *html.Node) {
	hasTarget, hasRel := false, false
	for i, a := range n.Attr {
		switch strings.ToLower(a.Key) {
		case "target":
			n.Attr[i].Val = "_blank"
			hasTarget = true
		case "rel":
			n.Attr[i].Val = "noopener noreferrer"
			hasRel = true
		}
	}
	if !hasTarget {
		n.Attr = append(n.Attr, html.Attribute{Key: "target", Val: "_blank"})
	}
	if !hasRel {
		n.Attr = append(n.Attr, html.Attribute{Key: "rel", Val: "noopener noreferrer"})
	}
}
