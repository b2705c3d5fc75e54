// Package blobstore implements the Blob Store external interface (spec §6):
// durable storage of uploaded artifacts and result documents, keyed by an
// opaque path. Key layout follows the spec exactly:
//
//	uploads/{owner-or-anonymous}/{epochMillis}-{sanitizedName}
//	results/{jobId}/extraction-result.json
package blobstore

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Store is the abstract key-value object store the core pipeline depends
// on. The HTTP surface, object-store provider, and layout details beyond
// this contract are deliberately out of scope (spec §1).
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeName collapses any run of characters outside [A-Za-z0-9._-] into a
// single underscore, so artifact-supplied filenames can never escape the
// intended key prefix (path traversal, embedded separators, control bytes).
func SanitizeName(name string) string {
	name = path.Base(name)
	name = sanitizeRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		name = "artifact"
	}
	return name
}

// UploadKey builds the `uploads/{owner-or-anonymous}/{epochMillis}-{name}`
// key for a freshly submitted artifact. owner is "anonymous" when the
// submitter has no identity.
func UploadKey(owner string, epochMillis int64, originalName string) string {
	if strings.TrimSpace(owner) == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("uploads/%s/%d-%s", owner, epochMillis, SanitizeName(originalName))
}

// ResultKey builds the `results/{jobId}/extraction-result.json` key. Once
// assigned to a Job, this key is never reused for a different write (spec §3
// invariant 7) — callers must not call Put twice for the same jobId.
func ResultKey(jobID string) string {
	return fmt.Sprintf("results/%s/extraction-result.json", jobID)
}

// ParseEpochFromKey extracts the epochMillis component of an upload key, for
// diagnostics and tests. Returns false if key does not look like an upload
// key.
func ParseEpochFromKey(key string) (int64, bool) {
	const prefix = "uploads/"
	if !strings.HasPrefix(key, prefix) {
		return 0, false
	}
	rest := key[len(prefix):]
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return 0, false
	}
	nameParts := strings.SplitN(parts[1], "-", 2)
	if len(nameParts) != 2 {
		return 0, false
	}
	ms, err := strconv.ParseInt(nameParts[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return ms, true
}
