package hooks

import (
	"path"
	"regexp"
	"strings"
)

// jsSourceExt are the extensions the JS tooling accepts.
var jsSourceExt = []string{".ts", ".tsx", ".js", ".jsx"}

// jsTestFile matches conventional test filenames (Button.test.tsx,
// api.spec.js).
var jsTestFile = regexp.MustCompile(`\.(test|spec)\.[jt]sx?$`)

// railsSpecs maps a Rails source path to its conventional spec path.
// Controllers map to request specs with the _controller suffix
// stripped; a spec file maps to itself. Paths outside app/, lib/, and
// spec/ have no mapping.
func railsSpecs(p string) []string {
	if !strings.HasSuffix(p, ".rb") {
		return nil
	}
	if strings.HasPrefix(p, "spec/") && strings.HasSuffix(p, "_spec.rb") {
		return []string{p}
	}
	switch {
	case strings.HasPrefix(p, "app/controllers/"):
		rest := strings.TrimPrefix(p, "app/controllers/")
		rest = strings.TrimSuffix(rest, ".rb")
		rest = strings.TrimSuffix(rest, "_controller")
		return []string{"spec/requests/" + rest + "_spec.rb"}
	case strings.HasPrefix(p, "app/"):
		rest := strings.TrimSuffix(strings.TrimPrefix(p, "app/"), ".rb")
		return []string{"spec/" + rest + "_spec.rb"}
	case strings.HasPrefix(p, "lib/"):
		rest := strings.TrimSuffix(strings.TrimPrefix(p, "lib/"), ".rb")
		return []string{"spec/lib/" + rest + "_spec.rb"}
	}
	return nil
}

// jsSpecs returns the candidate test files for a JS/TS source path:
// the .test/.spec sibling and the __tests__ mirror. Test files map to
// themselves.
func jsSpecs(p string) []string {
	ext := path.Ext(p)
	if !hasExt(p, jsSourceExt) {
		return nil
	}
	dir, file := path.Split(p)
	if jsTestFile.MatchString(file) || strings.Contains(p, "__tests__/") {
		return []string{p}
	}
	base := strings.TrimSuffix(file, ext)
	return []string{
		dir + base + ".test" + ext,
		dir + base + ".spec" + ext,
		dir + "__tests__/" + base + ".test" + ext,
		dir + "__tests__/" + base + ".spec" + ext,
	}
}

func hasExt(p string, exts []string) bool {
	ext := path.Ext(p)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// matchFiles filters paths to those with a listed extension or exact
// basename.
func matchFiles(paths, exts, basenames []string) []string {
	var out []string
	for _, p := range paths {
		if hasExt(p, exts) {
			out = append(out, p)
			continue
		}
		base := path.Base(p)
		for _, b := range basenames {
			if base == b {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
