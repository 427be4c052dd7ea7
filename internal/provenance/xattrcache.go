package provenance

// XattrCache accelerates GetArtifactByPath by caching the resolved
// artifact id in a filesystem extended attribute on the file itself, so a
// hot path (a directory listing computing stamp status for every entry)
// can often skip the database round trip entirely. It degrades silently
// to Store alone wherever the platform or filesystem doesn't support
// extended attributes: a cache miss is never an error, only a fallback.
type XattrCache struct {
	Store *Store
}

// NewXattrCache wires store behind the xattr accelerator.
func NewXattrCache(store *Store) *XattrCache {
	return &XattrCache{Store: store}
}

// GetArtifactByPath returns the artifact tracked at path, consulting the
// cached xattr id first and verifying it against the store before
// trusting it (a moved or reused path can't silently return someone
// else's artifact).
func (x *XattrCache) GetArtifactByPath(path string) (*Artifact, error) {
	if id, ok := getCachedArtifactID(path); ok {
		artifact, err := x.Store.GetArtifactByID(id)
		if err == nil && artifact != nil && artifact.FilePath == path {
			return artifact, nil
		}
	}

	artifact, err := x.Store.GetArtifactByPath(path)
	if err != nil || artifact == nil {
		return artifact, err
	}
	setCachedArtifactID(path, artifact.ID)
	return artifact, nil
}
