package common

import "path/filepath"

// DefaultControlSocket is the default file name for the local control
// socket, relative to a node's data directory.
const DefaultControlSocket = "dhtnode.sock"

// EnsurePathAbsoluteOrRelativeTo returns path unchanged if it is already
// absolute, otherwise it resolves path relative to datadir.
func EnsurePathAbsoluteOrRelativeTo(datadir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if datadir == "" {
		return path
	}
	return filepath.Join(datadir, path)
}
