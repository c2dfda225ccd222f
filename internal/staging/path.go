// Package staging turns a selection of checked tree paths into the minimal
// list of transfer jobs submitted to the Stager.
package staging

import "strings"

// IsDirectory reports whether path denotes a directory. Directory paths
// always carry a trailing separator, either "/" or "\".
func IsDirectory(path string) bool {
	return strings.HasSuffix(path, "/") || strings.HasSuffix(path, `\`)
}

// separator returns the trailing separator of a directory path.
func separator(dir string) string {
	if strings.HasSuffix(dir, `\`) {
		return `\`
	}
	return "/"
}

// baseName returns the last component of a directory path, using the
// separator style that terminates it.
func baseName(dir string) string {
	sep := separator(dir)
	trimmed := strings.TrimSuffix(dir, sep)
	if i := strings.LastIndex(trimmed, sep); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
