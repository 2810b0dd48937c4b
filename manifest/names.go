package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

var errInvalidName = errors.New("invalid entry name")

// InferName derives a display name from the last path segment of u. The
// host is used when the path has no usable segment.
func InferName(u *url.URL) string {
	p := strings.TrimRight(u.Path, "/")
	if p == "" {
		return u.Hostname()
	}
	return path.Base(p)
}

// FlattenName maps a name onto the flat namespace: leading and trailing
// slashes are dropped and inner slashes become underscores.
func FlattenName(name string) (string, error) {
	flat := strings.ReplaceAll(strings.Trim(name, "/"), "/", "_")
	switch {
	case flat == "", flat == ".", flat == "..":
		return "", fmt.Errorf("%w: %q", errInvalidName, name)
	case strings.ContainsRune(flat, 0):
		return "", fmt.Errorf("%w: %q contains NUL", errInvalidName, name)
	}
	return flat, nil
}
