package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1024", 1024, false},
		{"1KB", 1024, false},
		{"1.5 GB", 1536 * MB, false},
		{"2mb", 2 * MB, false},
		{"1Ti", TB, false},
		{"0", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"10XB", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0 B", Format(0))
	assert.Equal(t, "512 B", Format(512))
	assert.Equal(t, "1.00 KB", Format(1024))
	assert.Equal(t, "4.00 GB", Format(4*GB))
}

func TestSizeUnmarshalYAML(t *testing.T) {
	var cfg struct {
		Max Size `yaml:"max"`
	}

	require.NoError(t, yaml.Unmarshal([]byte("max: 100MB"), &cfg))
	assert.Equal(t, 100*MB, cfg.Max.Bytes())

	require.NoError(t, yaml.Unmarshal([]byte("max: 2048"), &cfg))
	assert.Equal(t, int64(2048), cfg.Max.Bytes())

	err := yaml.Unmarshal([]byte("max: [1, 2]"), &cfg)
	assert.Error(t, err)
}
