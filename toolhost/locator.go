package toolhost

import (
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/shlex"
)

// Kind is the launch strategy of a tool host
type Kind string

// Supported kinds
const (
	KindNode      Kind = "node"
	KindPython    Kind = "python"
	KindStdio     Kind = "stdio"
	KindHTTP      Kind = "http"
	KindTransport Kind = "transport"
)

const stdioScheme = "stdio://"

// Locator describes how to reach a tool host
type Locator struct {
	Raw     string
	Kind    Kind
	Command string
	Args    []string
	URL     string
}

// Spawns returns true if the locator requires a child process
func (l *Locator) Spawns() bool {
	return l.Command != ""
}

// kinds maps a script extension to its launch strategy
var kinds = map[string]Kind{
	".js":  KindNode,
	".mjs": KindNode,
	".cjs": KindNode,
	".py":  KindPython,
}

// DefaultPython returns the interpreter used for .py hosts on this platform
func DefaultPython() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// ParseLocator selects the launch strategy for the locator.
// Scripts are matched by extension, stdio:// carries an explicit command line,
// http(s):// points at a streamable HTTP endpoint.
// The stdio:// command line is split with shell quoting rules: an argument with
// spaces is quoted, and a backslash escapes the next character outside single
// quotes, so Windows paths go in single quotes.
func ParseLocator(raw string, nodeBinary, pythonBinary string) (*Locator, error) {
	loc := &Locator{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return loc, errors.New("tool host locator is empty")
	}

	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, stdioScheme):
		loc.Kind = KindStdio
		fields, err := shlex.Split(s[len(stdioScheme):])
		if err != nil {
			return loc, errors.Wrapf(err, "invalid command in %s", raw)
		}
		if len(fields) == 0 {
			return loc, errors.Errorf("no command in %s", raw)
		}
		loc.Command = fields[0]
		loc.Args = fields[1:]
		return loc, nil
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		loc.Kind = KindHTTP
		u, err := url.Parse(s)
		if err != nil {
			return loc, errors.Wrapf(err, "invalid URL")
		}
		if u.Host == "" {
			return loc, errors.Errorf("missing host in %s", raw)
		}
		loc.URL = u.String()
		return loc, nil
	}

	ext := strings.ToLower(filepath.Ext(s))
	kind, ok := kinds[ext]
	if !ok {
		if ext == "" {
			return loc, errors.Errorf("unsupported tool host: %s has no extension", raw)
		}
		return loc, errors.Errorf("unsupported tool host kind %q", ext)
	}

	loc.Kind = kind
	loc.Args = []string{s}
	switch kind {
	case KindNode:
		loc.Command = nodeBinary
		if loc.Command == "" {
			loc.Command = "node"
		}
	case KindPython:
		loc.Command = pythonBinary
		if loc.Command == "" {
			loc.Command = DefaultPython()
		}
	}
	return loc, nil
}
