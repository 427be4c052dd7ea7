//go:build linux || darwin

package provenance

import (
	"strconv"

	"golang.org/x/sys/unix"
)

const xattrArtifactID = "user.node_drive.artifact_id"

func getCachedArtifactID(path string) (int64, bool) {
	buf := make([]byte, 20)
	n, err := unix.Getxattr(path, xattrArtifactID, buf)
	if err != nil || n == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(string(buf[:n]), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func setCachedArtifactID(path string, id int64) {
	_ = unix.Setxattr(path, xattrArtifactID, []byte(strconv.FormatInt(id, 10)), 0)
}
