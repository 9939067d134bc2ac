// Package derive computes view state from synchronized data. Everything
// here is a pure reduction over inputs owned elsewhere; nothing in this
// package fetches.
package derive

import (
	"bytes"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/everhouse/clubsync/internal/model"
)

// Renderer converts announcement Markdown to sanitized HTML. Results are
// memoized per body so repeated reductions over unchanged announcements
// cost nothing.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy

	mu   sync.Mutex
	memo map[string]string
}

// NewRenderer creates a Renderer with GFM extensions and a UGC sanitizer.
func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		),
		policy: bluemonday.UGCPolicy(),
		memo:   make(map[string]string),
	}
}

// Render returns sanitized HTML for the given Markdown body.
func (r *Renderer) Render(markdown string) string {
	r.mu.Lock()
	if html, ok := r.memo[markdown]; ok {
		r.mu.Unlock()
		return html
	}
	r.mu.Unlock()

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		// Fall back to the sanitized raw text rather than dropping the
		// announcement.
		return r.policy.Sanitize(markdown)
	}
	html := r.policy.Sanitize(buf.String())

	r.mu.Lock()
	r.memo[markdown] = html
	r.mu.Unlock()
	return html
}

// RenderedAnnouncement pairs an announcement with its display HTML.
type RenderedAnnouncement struct {
	model.Announcement
	HTML string
}

// ActiveAnnouncements filters to announcements live on the given
// club-local calendar date.
func ActiveAnnouncements(items []model.Announcement, day model.CivilDate) []model.Announcement {
	var out []model.Announcement
	for _, a := range items {
		if a.ActiveOn(day) {
			out = append(out, a)
		}
	}
	return out
}

// UnseenAnnouncements filters active announcements down to those the
// current identity has not dismissed.
func UnseenAnnouncements(items []model.Announcement, dismissed *DismissedSet) []model.Announcement {
	var out []model.Announcement
	for _, a := range items {
		if dismissed == nil || !dismissed.Contains(a.ID) {
			out = append(out, a)
		}
	}
	return out
}

// RenderAll produces display-ready announcements.
func RenderAll(r *Renderer, items []model.Announcement) []RenderedAnnouncement {
	out := make([]RenderedAnnouncement, 0, len(items))
	for _, a := range items {
		out = append(out, RenderedAnnouncement{Announcement: a, HTML: r.Render(a.Body)})
	}
	return out
}
