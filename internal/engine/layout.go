package engine

import (
	"encoding/hex"
	"path/filepath"
	"strings"
)

const (
	// ArtifactExt replaces the input extension on the compressed artifact.
	ArtifactExt = ".output"
	// IndexExt names the sibling index file. Its path is derived but no
	// stage writes it yet.
	IndexExt = ".index"
)

// Layout is the content-addressed set of paths for one input file.
type Layout struct {
	Root     string
	Hash     string // lowercase hex, no separators
	Dir      string // Root/Hash
	Artifact string // Dir/<input base><ArtifactExt>
	Index    string // Dir/<input base><IndexExt>
}

// NewLayout derives the output paths for input under root from the digest
// of the input bytes.
func NewLayout(root, input string, digest []byte) Layout {
	sum := hex.EncodeToString(digest)
	dir := filepath.Join(root, sum)
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	return Layout{
		Root:     root,
		Hash:     sum,
		Dir:      dir,
		Artifact: filepath.Join(dir, base+ArtifactExt),
		Index:    filepath.Join(dir, base+IndexExt),
	}
}
