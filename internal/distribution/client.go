//go:build linux
// +build linux

// Package distribution implements a hand-written OCI Distribution client:
// bearer-token auth, manifest fetch with multi-arch selection, and
// digest-verified blob download with bounded retry.
//
// This intentionally does not use go-containerregistry's remote/authn
// packages — those would hide exactly the protocol mechanics this package
// is responsible for owning directly.
package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"cubo/internal/image"
)

// manifestAcceptTypes lists the media types requested on every manifest
// fetch, per §4.2: OCI image manifest, OCI image index, and their Docker
// v2 equivalents (for registries, like Docker Hub, that still serve the
// older media types).
var manifestAcceptTypes = []string{
	ocispec.MediaTypeImageManifest,
	ocispec.MediaTypeImageIndex,
	"application/vnd.docker.distribution.manifest.v2+json",
	"application/vnd.docker.distribution.manifest.list.v2+json",
}

// Client is a minimal OCI Distribution protocol client, scoped to what
// `cubo pull` needs: resolve auth, fetch a manifest (following a
// manifest-list to the host's platform), and fetch blobs with streaming
// digest verification.
type Client struct {
	HTTPClient *http.Client
	Platform   v1.Platform

	// MaxRetries bounds the retry loop for transient blob-fetch failures.
	MaxRetries int
}

// NewClient returns a Client configured for the current host's platform
// (linux, and amd64 or arm64 per runtime.GOARCH).
func NewClient() *Client {
	arch := runtime.GOARCH
	if arch != "amd64" && arch != "arm64" {
		arch = "amd64"
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Platform:   v1.Platform{OS: "linux", Architecture: arch},
		MaxRetries: 4,
	}
}

// Token is an anonymous bearer token obtained via the registry's
// www-authenticate challenge.
type Token struct {
	Value string
}

// authChallenge is the parsed Www-Authenticate: Bearer header.
type authChallenge struct {
	realm   string
	service string
	scope   string
}

// ResolveAuth probes the registry's v2 API; if it challenges with a Bearer
// www-authenticate header, it performs the anonymous token exchange and
// returns the resulting token. A registry that doesn't challenge, or whose
// challenge is not a Bearer challenge this client understands, returns a
// nil token, which callers treat as "proceed unauthenticated." A failed
// token exchange is returned as an error.
func (c *Client) ResolveAuth(ctx context.Context, ref image.Reference) (*Token, error) {
	pingURL := fmt.Sprintf("https://%s/v2/", ref.Registry)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pingURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe registry %s: %w", ref.Registry, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusUnauthorized {
		return nil, nil
	}

	challenge, err := parseBearerChallenge(resp.Header.Get("Www-Authenticate"))
	if err != nil {
		return nil, nil // not a bearer challenge we understand; proceed unauthenticated
	}
	challenge.scope = fmt.Sprintf("repository:%s:pull", ref.Repository)

	return c.fetchToken(ctx, challenge)
}

func parseBearerChallenge(header string) (authChallenge, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return authChallenge{}, fmt.Errorf("not a bearer challenge: %q", header)
	}

	var c authChallenge
	params := strings.TrimPrefix(header, "Bearer ")
	for _, part := range strings.Split(params, ",") {
		part = strings.TrimSpace(part)
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		val := strings.Trim(kv[1], `"`)
		switch kv[0] {
		case "realm":
			c.realm = val
		case "service":
			c.service = val
		case "scope":
			c.scope = val
		}
	}
	if c.realm == "" {
		return authChallenge{}, fmt.Errorf("bearer challenge missing realm")
	}
	return c, nil
}

func (c *Client) fetchToken(ctx context.Context, challenge authChallenge) (*Token, error) {
	u, err := url.Parse(challenge.realm)
	if err != nil {
		return nil, fmt.Errorf("invalid token realm %q: %w", challenge.realm, err)
	}
	q := u.Query()
	if challenge.service != "" {
		q.Set("service", challenge.service)
	}
	if challenge.scope != "" {
		q.Set("scope", challenge.scope)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed: %s", resp.Status)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	tok := body.Token
	if tok == "" {
		tok = body.AccessToken
	}
	if tok == "" {
		return nil, fmt.Errorf("token response had no token")
	}

	return &Token{Value: tok}, nil
}

// FetchManifest retrieves ref's manifest, following a manifest list/index
// to the entry matching the client's platform when the registry returns
// one instead of a single-platform manifest.
func (c *Client) FetchManifest(ctx context.Context, ref image.Reference, tok *Token) (*ocispec.Manifest, []byte, error) {
	tagOrDigest := ref.Tag
	if ref.IsDigestRef() {
		tagOrDigest = ref.Digest
	}

	data, mediaType, err := c.getManifest(ctx, ref, tagOrDigest, tok)
	if err != nil {
		return nil, nil, err
	}

	if isManifestList(mediaType) {
		selected, err := c.selectPlatformManifest(data)
		if err != nil {
			return nil, nil, err
		}
		data, _, err = c.getManifest(ctx, ref, selected.String(), tok)
		if err != nil {
			return nil, nil, err
		}
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &manifest, data, nil
}

func isManifestList(mediaType string) bool {
	switch mediaType {
	case ocispec.MediaTypeImageIndex, "application/vnd.docker.distribution.manifest.list.v2+json":
		return true
	default:
		return false
	}
}

func (c *Client) selectPlatformManifest(indexData []byte) (digest.Digest, error) {
	var index ocispec.Index
	if err := json.Unmarshal(indexData, &index); err != nil {
		return "", fmt.Errorf("parse manifest list: %w", err)
	}

	for _, m := range index.Manifests {
		if m.Platform == nil {
			continue
		}
		if m.Platform.OS == c.Platform.OS && m.Platform.Architecture == c.Platform.Architecture {
			return m.Digest, nil
		}
	}

	return "", fmt.Errorf("no manifest for platform %s/%s in manifest list", c.Platform.OS, c.Platform.Architecture)
}

func (c *Client) getManifest(ctx context.Context, ref image.Reference, tagOrDigest string, tok *Token) ([]byte, string, error) {
	manifestURL := fmt.Sprintf("https://%s/v2/%s/manifests/%s", ref.Registry, ref.Repository, tagOrDigest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", strings.Join(manifestAcceptTypes, ", "))
	if tok != nil {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, "", fmt.Errorf("%w: %s", ErrAuth, resp.Status)
	case http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, ref.String())
	default:
		return nil, "", fmt.Errorf("fetch manifest: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read manifest body: %w", err)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// FetchBlob streams dgst from the registry into w, verifying its digest as
// it goes and retrying transient failures (5xx, connection resets) with
// exponential backoff up to MaxRetries times after the first attempt
// (MaxRetries+1 attempts in all). A digest mismatch is not
// retried — it means the registry or the network corrupted the content,
// not that the request was transient.
func (c *Client) FetchBlob(ctx context.Context, ref image.Reference, dgst digest.Digest, tok *Token, w io.Writer) error {
	blobURL := fmt.Sprintf("https://%s/v2/%s/blobs/%s", ref.Registry, ref.Repository, dgst)

	var lastErr error
	delay := 250 * time.Millisecond

	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		err := c.fetchBlobOnce(ctx, blobURL, dgst, tok, w)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("fetch blob %s: exhausted %d retries: %w", dgst, c.MaxRetries, lastErr)
}

func (c *Client) fetchBlobOnce(ctx context.Context, blobURL string, dgst digest.Digest, tok *Token, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, blobURL, nil)
	if err != nil {
		return err
	}
	if tok != nil {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return retryableError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: blob %s", ErrNotFound, dgst)
	case resp.StatusCode >= 500:
		return retryableError{fmt.Errorf("blob fetch: server error %s", resp.Status)}
	default:
		return fmt.Errorf("blob fetch: unexpected status %s", resp.Status)
	}

	digester := dgst.Algorithm().Digester()
	if _, err := io.Copy(io.MultiWriter(w, digester.Hash()), resp.Body); err != nil {
		return retryableError{err}
	}

	if actual := digester.Digest(); actual != dgst {
		return fmt.Errorf("%w: expected %s, got %s", ErrCorrupt, dgst, actual)
	}

	return nil
}

type retryableError struct{ err error }

func (r retryableError) Error() string { return r.err.Error() }
func (r retryableError) Unwrap() error { return r.err }

func isRetryable(err error) bool {
	_, ok := err.(retryableError)
	return ok
}

// shortDigest returns a shortened digest for progress display.
func shortDigest(dgst digest.Digest) string {
	enc := dgst.Encoded()
	if len(enc) > 12 {
		return enc[:12]
	}
	return enc
}

// sizeString is a small helper kept for progress-reporting callers.
func sizeString(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n/div >= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
