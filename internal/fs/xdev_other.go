//go:build !unix

package fs

func isCrossDevice(err error) bool {
	return false
}
