// Package paths computes deterministic output locations for migrated pages.
package paths

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/confmove/confmove/internal/models"
)

// unsafeChars are stripped from titles before use as file or directory
// names. The set matches what the target filesystem and WebDAV refuse.
var unsafeChars = regexp.MustCompile(`[/\\:*?"<>|]`)

// maxNameLen caps sanitized names, measured in runes.
const maxNameLen = 200

// indexBase is the per-directory index document name used by
// Collectives for landing pages.
const (
	indexBase = "Readme"
	indexFile = indexBase + ".md"
)

// OutputPath is a page's resolved location relative to the space root.
type OutputPath struct {
	// File is the relative path of the Markdown file, e.g. "Guides/Setup.md".
	File string
	// Dir is the directory the file and its attachments live in ("" = root).
	Dir string
	// Suffix is the collision ordinal appended to the base name (0 = none).
	Suffix int
}

// Sanitize strips unsafe characters from a title and caps its length.
// A title that is empty after stripping falls back to the given page ID.
func Sanitize(title, pageID string) string {
	name := strings.TrimSpace(unsafeChars.ReplaceAllString(title, ""))
	if name == "" {
		name = pageID
	}
	if name == "" {
		name = "untitled"
	}
	if runes := []rune(name); len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}
	return name
}

// Resolver assigns collision-free names within sibling scopes. Within
// one directory no two assigned base names collide; collisions pick up
// -2, -3, ... ordinals in the order pages are presented.
type Resolver struct {
	used map[string]map[string]bool // dir → assigned base names
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{used: make(map[string]map[string]bool)}
}

// claim reserves a base name in the given directory scope, appending an
// ordinal on collision. Returns the final name and the ordinal used.
func (r *Resolver) claim(dir, name string) (string, int) {
	scope := r.used[dir]
	if scope == nil {
		scope = make(map[string]bool)
		r.used[dir] = scope
	}

	final := name
	suffix := 0
	for counter := 2; scope[final]; counter++ {
		final = name + "-" + strconv.Itoa(counter)
		suffix = counter
	}
	scope[final] = true
	return final, suffix
}

// BuildTree resolves output paths for every record, keyed by page ID.
// Records must be in source presentation order; that order is the
// collision tie-break and is assumed stable across runs.
func BuildTree(records []*models.PageRecord) map[string]OutputPath {
	out := make(map[string]OutputPath, len(records))
	if len(records) == 0 {
		return out
	}

	byID := make(map[string]*models.PageRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	children := make(map[string][]string)
	var roots []string
	for _, rec := range records {
		if rec.ParentID != "" && byID[rec.ParentID] != nil {
			children[rec.ParentID] = append(children[rec.ParentID], rec.ID)
		} else {
			roots = append(roots, rec.ID)
		}
	}

	homepage := findHomepage(records, roots, children)

	r := NewResolver()
	if homepage != "" {
		// The root index is taken by the homepage, so a sibling page
		// actually titled "Readme" must pick up an ordinal.
		r.claim("", indexBase)
	}

	var assign func(ids []string, dir string)
	assign = func(ids []string, dir string) {
		for _, id := range ids {
			rec := byID[id]
			hasChildren := len(children[id]) > 0 || rec.HasChildren

			switch {
			case id == homepage && dir == "":
				// Homepage is the root index regardless of children;
				// its children resolve at the root scope.
				out[id] = OutputPath{File: indexFile, Dir: ""}
				assign(children[id], "")

			case hasChildren:
				folder, suffix := r.claim(dir, Sanitize(rec.Title, rec.ID))
				folderPath := folder
				if dir != "" {
					folderPath = dir + "/" + folder
				}
				out[id] = OutputPath{File: folderPath + "/" + indexFile, Dir: folderPath, Suffix: suffix}
				r.claim(folderPath, indexBase)
				assign(children[id], folderPath)

			default:
				name, suffix := r.claim(dir, Sanitize(rec.Title, rec.ID))
				file := name + ".md"
				if dir != "" {
					file = dir + "/" + file
				}
				out[id] = OutputPath{File: file, Dir: dir, Suffix: suffix}
			}
		}
	}

	assign(roots, "")
	return out
}

// findHomepage returns the page ID that resolves to the root index.
// The source-provided flag wins; without one, the root page with the
// most children is used (first in presentation order on ties).
func findHomepage(records []*models.PageRecord, roots []string, children map[string][]string) string {
	for _, rec := range records {
		if rec.Homepage {
			return rec.ID
		}
	}

	best := ""
	bestCount := -1
	for _, id := range roots {
		if n := len(children[id]); n > bestCount {
			best = id
			bestCount = n
		}
	}
	return best
}
