package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"windows absolute", `C:\dumps\x\y.dll`, "dumps/x/y.dll"},
		{"windows lowercase drive", `d:\temp\core.dmp`, "temp/core.dmp"},
		{"unix absolute", "/usr/lib/libc.so", "usr/lib/libc.so"},
		{"relative", "bin/app", "bin/app"},
		{"traversal stripped", `..\..\etc\passwd`, "etc/passwd"},
		{"mixed separators", `C:\app/modules\m.dll`, "app/modules/m.dll"},
		{"dot segments", "./a/./b", "a/b"},
		{"collapses empties", "a//b", "a/b"},
		{"bare filename", "core.dmp", "core.dmp"},
		{"empty", "", ""},
		{"only traversal", "../..", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizePath(tc.in))
		})
	}
}
