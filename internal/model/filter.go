package model

import (
	"fmt"
	"strings"
)

// ComponentRef names a product/component pair, e.g. Firefox::Address Bar.
type ComponentRef struct {
	Product   string `json:"product"`
	Component string `json:"component"`
}

func (c ComponentRef) String() string {
	return c.Product + ":" + c.Component
}

// ParseComponentRef parses "PRODUCT:COMPONENT". Both halves are required.
func ParseComponentRef(s string) (ComponentRef, error) {
	product, component, ok := strings.Cut(s, ":")
	product = strings.TrimSpace(product)
	component = strings.TrimSpace(component)
	if !ok || product == "" || component == "" {
		return ComponentRef{}, fmt.Errorf("expected PRODUCT:COMPONENT, got %q", s)
	}
	return ComponentRef{Product: product, Component: component}, nil
}

// Filter selects the issues a digest covers.
type Filter struct {
	Components  []ComponentRef `json:"components,omitempty"`
	Whiteboards []string       `json:"whiteboards,omitempty"`
	Projects    []string       `json:"projects,omitempty"`
	Days        int            `json:"days"`
}

// Criterion is one independent search: a component, a whiteboard tag or a
// whole project. Criteria of one filter may overlap.
type Criterion struct {
	Product    string `json:"product,omitempty"`
	Component  string `json:"component,omitempty"`
	Whiteboard string `json:"whiteboard,omitempty"`
}

func (c Criterion) String() string {
	switch {
	case c.Whiteboard != "":
		return "whiteboard " + c.Whiteboard
	case c.Component != "":
		return c.Product + " :: " + c.Component
	default:
		return c.Product
	}
}

// Criteria expands the filter in a stable order: components, whiteboards,
// then projects. Exact repeats are collapsed and blank entries, including
// components missing either half, are skipped.
func (f Filter) Criteria() []Criterion {
	seen := make(map[Criterion]struct{})
	var out []Criterion
	add := func(c Criterion) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}

	for _, c := range f.Components {
		product, component := strings.TrimSpace(c.Product), strings.TrimSpace(c.Component)
		if product != "" && component != "" {
			add(Criterion{Product: product, Component: component})
		}
	}
	for _, w := range f.Whiteboards {
		if w = strings.TrimSpace(w); w != "" {
			add(Criterion{Whiteboard: w})
		}
	}
	for _, p := range f.Projects {
		if p = strings.TrimSpace(p); p != "" {
			add(Criterion{Product: p})
		}
	}
	return out
}

// Title is a short human label for report headings.
func (f Filter) Title() string {
	var parts []string
	for _, c := range f.Criteria() {
		parts = append(parts, c.String())
	}
	if len(parts) == 0 {
		return "all issues"
	}
	return strings.Join(parts, ", ")
}
