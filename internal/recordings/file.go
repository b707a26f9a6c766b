// Package recordings locates and classifies recording files produced by a
// broadcast session, and decides which file to upload.
package recordings

import "time"

// File is an immutable snapshot of one recording file's filesystem metadata.
// Path is the identity; two snapshots with the same path describe the same file.
type File struct {
	Path       string        `json:"path"`
	Name       string        `json:"name"`
	Size       int64         `json:"size"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"createdAt"`
	ModifiedAt time.Time     `json:"modifiedAt"`
}

// MostRecent returns the file with the latest ModifiedAt, or nil for an
// empty slice. Used by manual override actions.
func MostRecent(files []File) *File {
	var best *File
	for i := range files {
		if best == nil || files[i].ModifiedAt.After(best.ModifiedAt) {
			best = &files[i]
		}
	}
	return best
}

// Longest returns the file with the greatest Duration, or nil for an
// empty slice.
func Longest(files []File) *File {
	var best *File
	for i := range files {
		if best == nil || files[i].Duration > best.Duration {
			best = &files[i]
		}
	}
	return best
}
