package index

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"math/bits"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBytes(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return p
}

func TestComputeMissingHashes(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeBytes(t, out, "a.png", []byte("same-bytes"))
	writeBytes(t, out, "b.png", []byte("same-bytes"))
	writeBytes(t, out, "c.png", []byte("other-bytes"))

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)

	processed, unhashed, err := ix.ComputeMissingHashes(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)
	assert.EqualValues(t, 0, unhashed)

	rows, err := ix.engine.Query(context.Background(),
		`SELECT content_hash, hash_state FROM assets ORDER BY filepath`)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, rows[0].String("content_hash"), rows[1].String("content_hash"))
	assert.NotEqual(t, rows[0].String("content_hash"), rows[2].String("content_hash"))
	for _, row := range rows {
		assert.Equal(t, "computed", row.String("hash_state"))
	}
}

func TestComputeMissingHashes_MissingFileMarkedFailed(t *testing.T) {
	ix, out := newTestIndexer(t)
	p := writeBytes(t, out, "gone.png", []byte("x"))
	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)
	require.NoError(t, os.Remove(p))

	_, _, err = ix.ComputeMissingHashes(context.Background(), 0)
	require.NoError(t, err)

	rows, err := ix.engine.Query(context.Background(), `SELECT hash_state FROM assets`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "failed", rows[0].String("hash_state"))
}

func TestDuplicateGroups_ExactContent(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeBytes(t, out, "a.png", []byte("same-bytes"))
	writeBytes(t, out, "sub/b.png", []byte("same-bytes"))
	writeBytes(t, out, "c.png", []byte("unique"))

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)

	report, err := ix.DuplicateGroups(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.False(t, report.Groups[0].Perceptual)
	assert.Len(t, report.Groups[0].Assets, 2)
}

func TestDuplicateGroups_IsIdempotent(t *testing.T) {
	ix, out := newTestIndexer(t)
	writeBytes(t, out, "a.png", []byte("same-bytes"))
	writeBytes(t, out, "b.png", []byte("same-bytes"))

	_, err := ix.ScanDirectory(context.Background(), out, Options{Recursive: true, Fast: true})
	require.NoError(t, err)

	first, err := ix.DuplicateGroups(context.Background(), 0)
	require.NoError(t, err)
	second, err := ix.DuplicateGroups(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, 0, second.Hashed)
}

func TestCaseDuplicateAlerts(t *testing.T) {
	ix, _ := newTestIndexer(t)
	ctx := context.Background()
	for _, p := range []string{"/out/Dup.png", "/out/dup.png", "/out/solo.png"} {
		_, err := ix.engine.Execute(ctx,
			`INSERT INTO assets (filepath, filename, subfolder, source, kind, ext, size_bytes, mtime, mtime_ns, hash_state, created_at, updated_at, indexed_at)
			 VALUES (?, ?, '', 'output', 'image', 'png', 1, 1, 1, 'none', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`,
			p, filepath.Base(p))
		require.NoError(t, err)
	}

	alerts, err := ix.CaseDuplicateAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "/out/dup.png", alerts[0].Folded)
	assert.ElementsMatch(t, []string{"/out/Dup.png", "/out/dup.png"}, alerts[0].Paths)
}

// grayHash renders a 32x32 grayscale image from the pixel function and
// returns its average hash.
func grayHash(t *testing.T, pixel func(x, y int) uint8) uint64 {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetGray(x, y, color.Gray{Y: pixel(x, y)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	v, err := averageHash(&buf)
	require.NoError(t, err)
	return v
}

func TestAverageHash_HammingDistance(t *testing.T) {
	left := grayHash(t, func(x, y int) uint8 {
		if x < 16 {
			return 0
		}
		return 255
	})
	noisy := grayHash(t, func(x, y int) uint8 {
		if x < 16 {
			return 20
		}
		return 235
	})
	inverted := grayHash(t, func(x, y int) uint8 {
		if x < 16 {
			return 255
		}
		return 0
	})

	// Brightness shifts keep the bit pattern; inversion flips all of it.
	assert.Equal(t, 0, bits.OnesCount64(left^noisy))
	assert.Equal(t, 64, bits.OnesCount64(left^inverted))
}
