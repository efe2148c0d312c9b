package image

import "strings"

// DefaultRegistry is used when a reference names no registry host, mirroring
// Docker Hub's default.
const DefaultRegistry = "registry-1.docker.io"

// DefaultTag is implied when a reference names no tag.
const DefaultTag = "latest"

// Reference is a parsed image reference: registry host, repository path,
// and either a tag or a digest (never both set).
//
// Grounded on the teacher's resolveReference/splitRepoTag/splitRegistry
// helpers in internal/image/store.go, generalized into a standalone parse
// function so the Registry Client (internal/distribution) can reuse the
// exact same parsing the Image Store uses, rather than each having its own
// slightly different reference grammar.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// String renders the reference back to its canonical form, e.g.
// "registry-1.docker.io/library/alpine:latest" or
// "ghcr.io/owner/image@sha256:...".
func (r Reference) String() string {
	var b strings.Builder
	b.WriteString(r.Registry)
	b.WriteString("/")
	b.WriteString(r.Repository)
	if r.Digest != "" {
		b.WriteString("@")
		b.WriteString(r.Digest)
	} else {
		b.WriteString(":")
		b.WriteString(r.Tag)
	}
	return b.String()
}

// IsDigestRef reports whether the reference pins a digest rather than a tag.
func (r Reference) IsDigestRef() bool {
	return r.Digest != ""
}

// ParseReference parses a Docker-Hub-compatible image reference string.
// Examples:
//
//	"alpine"               -> {registry-1.docker.io, library/alpine, latest, ""}
//	"alpine:3.18"           -> {registry-1.docker.io, library/alpine, 3.18, ""}
//	"ghcr.io/owner/img:v1"  -> {ghcr.io, owner/img, v1, ""}
//	"alpine@sha256:abc..."  -> {registry-1.docker.io, library/alpine, "", sha256:abc...}
func ParseReference(ref string) (Reference, error) {
	if strings.TrimSpace(ref) == "" {
		return Reference{}, errEmptyReference
	}

	named := ref
	dgst := ""
	if idx := strings.Index(ref, "@"); idx != -1 {
		named = ref[:idx]
		dgst = ref[idx+1:]
		if dgst == "" {
			return Reference{}, errInvalidReference(ref)
		}
	}

	repo, tag := splitRepoTag(named)
	if dgst == "" && tag == "" {
		tag = DefaultTag
	}

	registry, remainder := splitRegistry(repo)
	if registry == "" {
		registry = DefaultRegistry
		if !strings.Contains(remainder, "/") {
			remainder = "library/" + remainder
		}
	}

	return Reference{
		Registry:   registry,
		Repository: remainder,
		Tag:        tag,
		Digest:     dgst,
	}, nil
}

// splitRepoTag splits a reference into repository and tag. The tag is only
// recognized if its ":" appears after the last "/", so a registry port
// (e.g. "localhost:5000/alpine") isn't mistaken for a tag separator.
func splitRepoTag(ref string) (repo, tag string) {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		return ref[:colon], ref[colon+1:]
	}
	return ref, ""
}

// splitRegistry splits a repository path into registry host and remainder.
// Follows Docker's heuristic: the first path component is a registry host
// only if it contains "." or ":" or is literally "localhost".
func splitRegistry(repo string) (registry, remainder string) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) == 1 {
		return "", repo
	}
	if isRegistryHost(parts[0]) {
		return parts[0], parts[1]
	}
	return "", repo
}

func isRegistryHost(component string) bool {
	return strings.Contains(component, ".") || strings.Contains(component, ":") || component == "localhost"
}

type refError string

func (e refError) Error() string { return string(e) }

const errEmptyReference = refError("empty image reference")

func errInvalidReference(ref string) error {
	return refError("invalid image reference: " + ref)
}
