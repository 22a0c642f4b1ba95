package exec

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/crane"
)

// ResolveImageDigest asks the registry for the manifest digest of ref
// (e.g. "python:3.8-slim" -> "sha256:..."), so a manifest pins exactly
// which image a step ran in.
func ResolveImageDigest(ctx context.Context, ref string) (string, error) {
	digest, err := crane.Digest(ref, crane.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("resolve digest for %s: %w", ref, err)
	}
	return digest, nil
}
