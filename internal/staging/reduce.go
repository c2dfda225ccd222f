package staging

import (
	"fmt"
	"strings"
)

// Validation failure reasons.
const (
	ReasonNoSource          = "no source"
	ReasonNoDestination     = "no destination"
	ReasonMultipleDest      = "multiple destinations"
	ReasonDestinationNotDir = "destination not a directory"
)

// ValidationError reports a selection that cannot produce jobs.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return e.Reason
}

// MatchMode selects how a selected directory is tested as an ancestor.
type MatchMode int

const (
	// MatchSegments treats d as covering p when p lies below d in the path
	// hierarchy. "/data/foo/" does not cover "/data/foobar/x".
	MatchSegments MatchMode = iota
	// MatchSubstring treats d as covering p when d occurs anywhere in p.
	// Kept for clients that depend on the historical behavior.
	MatchSubstring
)

// Job is a single transfer from SrcURL to DstURL.
type Job struct {
	SrcURL string `json:"srcURL"`
	DstURL string `json:"dstURL"`
}

// Selection holds the checked paths of the source panel and the
// destination panel.
type Selection struct {
	Sources      []string `json:"src"`
	Destinations []string `json:"dst"`
}

// Options configures URL construction and ancestor matching.
type Options struct {
	SourcePrefix      string
	DestinationPrefix string
	Match             MatchMode
}

// Validate checks the selection without computing jobs. Empty source
// paths do not count as a selection.
func (s Selection) Validate() error {
	if !hasSource(s.Sources) {
		return &ValidationError{Reason: ReasonNoSource}
	}
	switch {
	case len(s.Destinations) == 0:
		return &ValidationError{Reason: ReasonNoDestination}
	case len(s.Destinations) > 1:
		return &ValidationError{
			Reason: ReasonMultipleDest,
			Detail: fmt.Sprintf("%d selected", len(s.Destinations)),
		}
	case !IsDirectory(s.Destinations[0]):
		return &ValidationError{Reason: ReasonDestinationNotDir, Detail: s.Destinations[0]}
	}
	return nil
}

// Reduce computes the jobs for sel. Files and directories already covered
// by a selected ancestor directory are dropped, since the ancestor's job
// transfers them recursively. Files come first, then directories, each in
// selection order.
func Reduce(sel Selection, opts Options) ([]Job, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	dst := sel.Destinations[0]

	var dirs, files []string
	seen := make(map[string]struct{}, len(sel.Sources))
	for _, p := range sel.Sources {
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if IsDirectory(p) {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}

	jobs := make([]Job, 0, len(files)+len(dirs))
	for _, f := range files {
		if coveredBy(f, dirs, opts.Match) {
			continue
		}
		jobs = append(jobs, Job{
			SrcURL: opts.SourcePrefix + f,
			DstURL: opts.DestinationPrefix + dst,
		})
	}
	for _, d := range dirs {
		if coveredBy(d, dirs, opts.Match) {
			continue
		}
		target := dst
		if name := baseName(d); name != "" {
			target += name + separator(d)
		}
		jobs = append(jobs, Job{
			SrcURL: opts.SourcePrefix + d,
			DstURL: opts.DestinationPrefix + target,
		})
	}
	return jobs, nil
}

func hasSource(paths []string) bool {
	for _, p := range paths {
		if p != "" {
			return true
		}
	}
	return false
}

// coveredBy reports whether another entry of dirs is an ancestor of p.
func coveredBy(p string, dirs []string, mode MatchMode) bool {
	for _, d := range dirs {
		if d == p {
			continue
		}
		if covers(d, p, mode) {
			return true
		}
	}
	return false
}

func covers(dir, p string, mode MatchMode) bool {
	if mode == MatchSubstring {
		return strings.Contains(p, dir)
	}
	return strings.HasPrefix(p, dir)
}
