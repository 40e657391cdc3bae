// Package uploads stores user-uploaded dataset files under one directory.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	// ErrNotAllowed is returned for files whose extension is not accepted.
	ErrNotAllowed = errors.New("file type not allowed")
	// ErrInvalidName is returned when a filename sanitises to nothing.
	ErrInvalidName = errors.New("invalid filename")
)

// AllowedExtensions lists accepted extensions, lower case, without the dot.
var AllowedExtensions = []string{"csv", "db"}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Allowed reports whether name has an accepted extension.
func Allowed(name string) bool {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return false
	}
	ext := strings.ToLower(name[i+1:])
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}

// SecureFilename reduces name to a safe, flat ASCII filename. Accents are
// folded, path separators become underscores, and leading or trailing dots
// and underscores are trimmed. The result may be empty.
func SecureFilename(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.Predicate(func(r rune) bool {
		return r > unicode.MaxASCII
	})))
	ascii, _, err := transform.String(t, name)
	if err != nil {
		return ""
	}

	ascii = strings.NewReplacer("/", " ", "\\", " ").Replace(ascii)
	ascii = strings.Join(strings.Fields(ascii), "_")
	ascii = unsafeChars.ReplaceAllString(ascii, "")
	return strings.Trim(ascii, "._")
}

// Dir is an upload directory.
type Dir struct {
	root string
}

// NewDir creates the directory if needed and returns a Dir rooted there.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &Dir{root: root}, nil
}

// Root returns the directory path.
func (d *Dir) Root() string { return d.root }

// Path returns the on-disk path for a stored filename.
func (d *Dir) Path(name string) string {
	return filepath.Join(d.root, filepath.Base(name))
}

// Save validates and sanitises name, writes r to the directory, and returns
// the stored filename. An existing file with the same name is replaced.
func (d *Dir) Save(name string, r io.Reader) (string, error) {
	if !Allowed(name) {
		return "", fmt.Errorf("%w: %q", ErrNotAllowed, name)
	}
	safe := SecureFilename(name)
	if safe == "" || !Allowed(safe) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing upload: %w", err)
	}
	if err := os.Rename(tmpPath, d.Path(safe)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("storing upload: %w", err)
	}
	return safe, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (d *Dir) Remove(name string) error {
	err := os.Remove(d.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
