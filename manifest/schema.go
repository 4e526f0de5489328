package manifest

import (
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/BurntSushi/toml"
)

// schema is the CUE definition every wang.toml must satisfy. Definitions
// are closed, so unknown keys are rejected.
const schema = `
#Manifest: {
	project?: {
		name?:    string & !=""
		version?: string
	}
	source?: {
		dirs?:  [...string & !=""]
		entry?: string
	}
	engine?: {
		"checkpoint-interval"?: int & >=1
		"max-call-depth"?:      int & >=1 & <=100000
		"snapshot-format"?:     "json" | "cbor"
		"collect-metadata"?:    bool
	}
	store?: {
		path?: string & !=""
	}
	dependencies?: [string]: #Dependency
}

#Dependency: {
	git?:  string & !=""
	tag?:  string
	path?: string & !=""
	as?:   string & =~"^[A-Za-z0-9_-]+$"
}
`

// Validate checks a wang.toml document against the manifest schema.
func Validate(data []byte) error {
	doc := map[string]any{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	ctx := cuecontext.New()
	s := ctx.CompileString(schema)
	if err := s.Err(); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	def := s.LookupPath(cue.ParsePath("#Manifest"))
	v := def.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return err
	}
	deps, _ := doc["dependencies"].(map[string]any)
	for _, name := range sortedNames(deps) {
		fields, _ := deps[name].(map[string]any)
		_, git := fields["git"]
		_, path := fields["path"]
		switch {
		case git && path:
			return fmt.Errorf("dependency %q sets both git and path", name)
		case !git && !path:
			return fmt.Errorf("dependency %q has no git or path specified", name)
		}
	}
	return nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
