package workflow

import _ "embed"

//go:embed canonical.yaml
var canonicalYAML []byte

// CanonicalYAML returns the built-in descriptor document, the one `ampa
// init` writes into a fresh project.
func CanonicalYAML() []byte {
	out := make([]byte, len(canonicalYAML))
	copy(out, canonicalYAML)
	return out
}

// Canonical parses the built-in descriptor.
func Canonical() (*Descriptor, error) {
	return Parse(canonicalYAML)
}
