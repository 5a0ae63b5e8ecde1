package subcmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionJSON(t *testing.T) {
	v := newVersion()
	var buf bytes.Buffer
	require.NoError(t, v.write(&buf, true))

	var got Version
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, []string{"VP8", "VP9"}, got.Codecs)
	assert.NotEmpty(t, got.Libvpx)
	assert.NotEmpty(t, got.GoVersion)
}

func TestVersionText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newVersion().write(&buf, false))
	assert.Contains(t, buf.String(), "Codecs:\t\t[VP8 VP9]")
}
