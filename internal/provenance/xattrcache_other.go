//go:build !linux && !darwin

package provenance

func getCachedArtifactID(path string) (int64, bool) { return 0, false }

func setCachedArtifactID(path string, id int64) {}
