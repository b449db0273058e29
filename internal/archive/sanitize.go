package archive

import (
	"strings"
)

// SanitizePath converts a client-local artifact path into a relative
// archive entry name. Windows and Unix paths both normalize to
// forward-slash form, drive markers are dropped, and no entry can
// escape the archive root:
//
//	C:\dumps\x\y.dll  ->  dumps/x/y.dll
//	/usr/lib/libc.so  ->  usr/lib/libc.so
func SanitizePath(localPath string) string {
	p := strings.ReplaceAll(localPath, `\`, "/")

	// Drop a leading drive marker ("C:", "d:") outright.
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = p[2:]
	}

	// Rebuild from path segments, refusing traversal and empties.
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}

func isDriveLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
