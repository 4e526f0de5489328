package manifest

import (
	"fmt"
	"strings"
	"unicode"
)

// ToModulePrefix converts a name to the kebab-case form used as an import
// prefix. "MyLib" -> "my-lib", "my_lib" -> "my-lib", "models" -> "models".
func ToModulePrefix(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		switch {
		case r == '-' || r == '_' || r == ' ':
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "-") {
				b.WriteByte('-')
			}
			prevLower = false
			continue
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
			continue
		}
		b.WriteRune(r)
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return strings.TrimSuffix(b.String(), "-")
}

// IsReservedPrefix reports whether name cannot be used as a dependency
// import prefix: it would be read as a relative or absolute path.
func IsReservedPrefix(name string) bool {
	return name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`)
}

// resolvePrefix determines the import prefix of a dependency:
//  1. Consumer override (dep.As from TOML)
//  2. Producer manifest (depManifest.Project.Name)
//  3. The dependency key
//
// The chosen name is converted with ToModulePrefix.
func resolvePrefix(name string, dep Dependency, depManifest *Manifest) (string, error) {
	var prefix string
	switch {
	case dep.As != "":
		prefix = dep.As
	case depManifest != nil && depManifest.Project.Name != "":
		prefix = depManifest.Project.Name
	default:
		prefix = name
	}
	prefix = ToModulePrefix(prefix)
	if IsReservedPrefix(prefix) {
		return "", fmt.Errorf("dependency %q resolves to unusable import prefix %q; add as = \"...\" in [dependencies]", name, prefix)
	}
	return prefix, nil
}
