// Package diff classifies revision changes and renders parent/revision diffs.
package diff

import (
	"fmt"
	"strings"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/pmezard/go-difflib/difflib"
)

// File represents a single file in a diff with its parsed fragments.
type File struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *File) Name() string {
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// DiffSet holds the parsed diff for all files.
type DiffSet struct {
	Files []*File
	Raw   string // the raw unified diff text
}

// Stats returns aggregate statistics.
func (ds *DiffSet) Stats() (files, added, deleted int) {
	files = len(ds.Files)
	for _, f := range ds.Files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// Parse reads a unified diff string and returns a DiffSet.
func Parse(raw string) (*DiffSet, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	ds := &DiffSet{Raw: raw}
	for _, f := range parsed {
		df := &File{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
		}

		for _, frag := range f.TextFragments {
			df.Fragments = append(df.Fragments, frag)
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}

		ds.Files = append(ds.Files, df)
	}

	return ds, nil
}

// Unified renders a git-style unified diff between two texts. Identical texts yield "".
func Unified(name, oldText, newText string, contextLines int) (string, error) {
	if oldText == newText {
		return "", nil
	}
	if contextLines <= 0 {
		contextLines = 3
	}
	name = strings.Join(strings.Fields(name), "_")

	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  contextLines,
	}
	body, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", fmt.Errorf("generating diff: %w", err)
	}
	return fmt.Sprintf("diff --git a/%s b/%s\n%s", name, name, body), nil
}

// Between diffs a revision's text against its parent's and parses the result.
func Between(name, parentText, revisionText string) (*DiffSet, error) {
	raw, err := Unified(name, parentText, revisionText, 3)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}
