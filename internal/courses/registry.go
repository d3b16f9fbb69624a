package courses

import "strings"

// Course is a static reference entity: a URL-safe slug and a display name.
// The slug set is fixed at build time; there is no runtime mutation.
type Course struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

var catalog = []Course{
	{Slug: "dsa", Name: "Data Structures & Algorithms"},
	{Slug: "discrete-math", Name: "Discrete Math"},
	{Slug: "dbms", Name: "Database Management Systems"},
	{Slug: "diff-eq", Name: "Differential Equations"},
}

// Registry provides read-only lookups over the fixed course catalog.
type Registry struct {
	bySlug map[string]Course
	order  []Course
}

// NewRegistry builds a registry over the built-in catalog.
func NewRegistry() *Registry {
	registry := &Registry{
		bySlug: make(map[string]Course, len(catalog)),
		order:  make([]Course, len(catalog)),
	}
	copy(registry.order, catalog)
	for _, course := range catalog {
		registry.bySlug[course.Slug] = course
	}
	return registry
}

// All returns every course in catalog order.
func (r *Registry) All() []Course {
	listed := make([]Course, len(r.order))
	copy(listed, r.order)
	return listed
}

// Lookup returns the course for the given slug.
func (r *Registry) Lookup(slug string) (Course, bool) {
	course, ok := r.bySlug[strings.TrimSpace(slug)]
	return course, ok
}

// Contains reports whether the slug names a known course.
func (r *Registry) Contains(slug string) bool {
	_, ok := r.Lookup(slug)
	return ok
}
