package artifact

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: Pack followed by Unpack always returns the original name and
// bytes, for any name/content/mode combination.
func TestPackUnpackRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.StringMatching(`[a-zA-Z0-9_\.]{1,24}`).Draw(rt, "name")
		data := rapid.SliceOf(rapid.Byte()).Draw(rt, "data")
		mode := rapid.Int64Range(0, 0o777).Draw(rt, "mode")

		archive, err := Pack(name, data, mode)
		require.NoError(rt, err)

		gotName, gotData, err := Unpack(bytes.NewReader(archive))
		require.NoError(rt, err)
		require.Equal(rt, filepath.Base(name), gotName)
		require.Equal(rt, data, gotData)
	})
}

// Property: Stage never overwrites an existing file — repeatedly staging
// the same logical name always produces a distinct path, and every
// written file's content matches what was staged.
func TestStageDisambiguation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		dir := t.TempDir()
		logicalName := rapid.StringMatching(`[a-z]{1,10}\.txt`).Draw(rt, "logicalName")
		n := rapid.IntRange(1, 8).Draw(rt, "n")

		seen := make(map[string]bool, n)
		for i := 0; i < n; i++ {
			content := []byte(rapid.String().Draw(rt, "content"))
			path, err := Stage(dir, logicalName, content)
			require.NoError(rt, err)
			require.False(rt, seen[path], "Stage produced a duplicate path %q", path)
			seen[path] = true

			written, err := os.ReadFile(path)
			require.NoError(rt, err)
			require.Equal(rt, content, written)
		}
	})
}

// Property: an archive with no regular-file entries is reported as an
// error, never as a zero-value success — a caller can always distinguish
// "nothing retrieved" from "empty file retrieved".
func TestUnpackEmptyArchiveIsError(t *testing.T) {
	archive, err := Pack("placeholder", nil, 0o644)
	require.NoError(t, err)
	// A zero-length archive (not even a tar footer) must fail, not decode
	// to a zero-value name/data pair.
	_, _, err = Unpack(bytes.NewReader(archive[:0]))
	require.Error(t, err)
}

func TestNormalizeSandboxPath(t *testing.T) {
	require.Equal(t, "/sandbox/out.png", NormalizeSandboxPath("out.png"))
	require.Equal(t, "/abs/out.png", NormalizeSandboxPath("/abs/out.png"))
}
