// Package filter turns a cleanup policy and a relationship graph into a
// concrete deletion set. The pipeline is a fixed stage order: structural
// narrowing (children out, protected tags stripped, age cutoff), then
// the configured selectors (delete patterns, ghost/partial/orphan,
// keep-N), then a merge by digest and a final per-tag exclusion pass.
package filter

import (
	"sort"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/graph"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/internal/registry"
	"github.com/LiquidLogicLabs/git-action-docker-cleanup-sub000/pkg/pattern"
)

// Policy is the filter-relevant slice of the cleanup configuration.
// Zero values mean "not configured" throughout.
type Policy struct {
	ExcludeTags    []string
	DeleteTags     []string
	OlderThan      time.Duration
	KeepNTagged    int
	KeepNUntagged  int
	DeleteUntagged bool
	DeleteGhost    bool
	DeletePartial  bool
	DeleteOrphaned bool
}

// selectorsConfigured reports whether any stage actively selects images.
// With no selector and no age cutoff the policy deletes nothing.
func (p Policy) selectorsConfigured() bool {
	return len(p.DeleteTags) > 0 ||
		p.KeepNTagged > 0 || p.KeepNUntagged > 0 || p.DeleteUntagged ||
		p.DeleteGhost || p.DeletePartial || p.DeleteOrphaned
}

// Candidate is one deletion-set entry: an image plus the exact tag names
// to delete from it. The tag list never contains an excluded tag; the
// underlying Image keeps its full tag list for the engine's cross-checks.
type Candidate struct {
	Image *registry.Image
	Tags  []string
}

// Apply runs the pipeline over the graph's image set. now anchors the
// age cutoff so tests stay deterministic.
func Apply(g *graph.Graph, pol Policy, now time.Time) ([]*Candidate, error) {
	exclude, err := pattern.CompileAll(pol.ExcludeTags)
	if err != nil {
		return nil, err
	}
	deletePat, err := pattern.CompileAll(pol.DeleteTags)
	if err != nil {
		return nil, err
	}

	// Stage 1: resolved children are deleted through their parent only.
	var pool []*registry.Image
	for _, img := range g.Images() {
		if g.IsResolvedChild(img) {
			continue
		}
		pool = append(pool, img)
	}

	// Stage 2: strip protected tags. An image whose every tag is
	// protected leaves the pool entirely.
	deletable := map[digest.Digest][]string{}
	var survivors []*registry.Image
	for _, img := range pool {
		tags := unprotectedTags(img, exclude)
		if img.Tagged() && len(tags) == 0 {
			continue
		}
		deletable[img.Digest()] = tags
		survivors = append(survivors, img)
	}
	pool = survivors

	// Stage 3: age cutoff. Images without a creation timestamp are
	// excluded rather than guessed at.
	if pol.OlderThan > 0 {
		cutoff := now.Add(-pol.OlderThan)
		survivors = pool[:0]
		for _, img := range pool {
			created := img.CreatedAt()
			if created.IsZero() || !created.Before(cutoff) {
				continue
			}
			survivors = append(survivors, img)
		}
		pool = survivors
	}

	// Stages 4-7: selectors. Each marks (image, tags) pairs; marks
	// accumulate and are merged by digest afterwards.
	type mark struct {
		img  *registry.Image
		tags []string
	}
	var marks []mark
	markAll := func(img *registry.Image) {
		marks = append(marks, mark{img: img, tags: deletable[img.Digest()]})
	}

	if len(deletePat) > 0 {
		for _, img := range pool {
			var matched []string
			for _, tag := range deletable[img.Digest()] {
				if pattern.MatchAny(deletePat, tag) {
					matched = append(matched, tag)
				}
			}
			if len(matched) > 0 {
				marks = append(marks, mark{img: img, tags: matched})
			}
		}
	}

	for _, img := range pool {
		switch {
		case pol.DeleteGhost && g.IsGhost(img):
			markAll(img)
		case pol.DeletePartial && g.IsPartial(img):
			markAll(img)
		case pol.DeleteOrphaned && g.IsOrphaned(img):
			markAll(img)
		}
	}

	if pol.KeepNTagged > 0 {
		tagged := filterImages(pool, func(img *registry.Image) bool { return img.Tagged() })
		for _, img := range beyondNewest(tagged, pol.KeepNTagged) {
			markAll(img)
		}
	}

	untagged := filterImages(pool, func(img *registry.Image) bool { return !img.Tagged() })
	switch {
	case pol.DeleteUntagged:
		for _, img := range untagged {
			markAll(img)
		}
	case pol.KeepNUntagged > 0:
		for _, img := range beyondNewest(untagged, pol.KeepNUntagged) {
			markAll(img)
		}
	}

	// An age cutoff with no other selector means "everything old goes".
	if pol.OlderThan > 0 && !pol.selectorsConfigured() {
		for _, img := range pool {
			markAll(img)
		}
	}

	// Stage 8: merge by digest, tag lists unioned.
	merged := map[digest.Digest]*Candidate{}
	var order []digest.Digest
	for _, m := range marks {
		dgst := m.img.Digest()
		c, ok := merged[dgst]
		if !ok {
			c = &Candidate{Image: m.img}
			merged[dgst] = c
			order = append(order, dgst)
		}
		c.Tags = unionTags(c.Tags, m.tags)
	}

	// Stage 9: re-apply exclusion per tag on the merged set. If the
	// stripping empties a tag list on an image that had tags, the image
	// leaves the deletion set: a protected tag is never removed as a
	// side effect of removing its siblings' manifest.
	var result []*Candidate
	for _, dgst := range order {
		c := merged[dgst]
		var kept []string
		for _, tag := range c.Tags {
			if pattern.MatchAny(exclude, tag) {
				continue
			}
			kept = append(kept, tag)
		}
		c.Tags = kept
		if c.Image.Tagged() && len(c.Tags) == 0 {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func unprotectedTags(img *registry.Image, exclude []*pattern.Pattern) []string {
	var tags []string
	for _, tag := range img.Tags {
		if pattern.MatchAny(exclude, tag.Name) {
			continue
		}
		tags = append(tags, tag.Name)
	}
	return tags
}

func filterImages(images []*registry.Image, keep func(*registry.Image) bool) []*registry.Image {
	var out []*registry.Image
	for _, img := range images {
		if keep(img) {
			out = append(out, img)
		}
	}
	return out
}

// beyondNewest sorts by recency descending and returns everything after
// the first n entries.
func beyondNewest(images []*registry.Image, n int) []*registry.Image {
	sorted := make([]*registry.Image, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortTime().After(sorted[j].SortTime())
	})
	if n >= len(sorted) {
		return nil
	}
	return sorted[n:]
}

func unionTags(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
