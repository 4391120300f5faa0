package file

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"", ".srt", ""},
		{"/v/ep01.json3", ".srt", "/v/ep01.srt"},
		{"/v/ep01.json3", "srt", "/v/ep01.srt"},
		{"ep01", "srt", "ep01.srt"},
		{"/v/.hidden", ".srt", "/v/.hidden.srt"},
		{"/v/ep01.srt", "", "/v/ep01"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.path, tt.ext), "%s + %s", tt.path, tt.ext)
	}
}

func TestSibling(t *testing.T) {
	assert.Equal(t, "/v/ep01.enriched.srt", Sibling("/v/ep01.srt", "enriched"))
	assert.Equal(t, "/v/ep01.enriched.json3", Sibling("/v/ep01.json3", ".enriched"))
	assert.Equal(t, "ep01.enriched", Sibling("ep01", "enriched"))
}
