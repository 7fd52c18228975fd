package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG builds a minimal PNG with the given dimensions and optional
// tEXt chunks.
func writePNG(t *testing.T, path string, w, h int, texts map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	chunk := func(ctype string, data []byte) {
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[:4], uint32(len(data)))
		copy(hdr[4:], ctype)
		buf.Write(hdr[:])
		buf.Write(data)
		crc := crc32.NewIEEE()
		crc.Write([]byte(ctype))
		crc.Write(data)
		var crcb [4]byte
		binary.BigEndian.PutUint32(crcb[:], crc.Sum32())
		buf.Write(crcb[:])
	}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // color type RGBA
	chunk("IHDR", ihdr)

	for k, v := range texts {
		chunk("tEXt", append(append([]byte(k), 0), []byte(v)...))
	}
	chunk("IDAT", []byte{0})
	chunk("IEND", nil)

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestProbeExtractor_PNGDimensionsAndWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gen.png")
	workflow := `{"3":{"class_type":"KSampler","inputs":{}}}`
	writePNG(t, path, 512, 768, map[string]string{"workflow": workflow})

	meta, err := NewProbeExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, meta.Width)
	assert.Equal(t, 512, *meta.Width)
	assert.Equal(t, 768, *meta.Height)
	assert.True(t, meta.HasWorkflow())
	assert.Equal(t, "full", meta.Quality)
	assert.JSONEq(t, workflow, string(meta.Workflow))
}

func TestProbeExtractor_PNGWithoutText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.png")
	writePNG(t, path, 100, 100, nil)

	meta, err := NewProbeExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 100, *meta.Width)
	assert.False(t, meta.HasWorkflow())
	assert.Equal(t, "partial", meta.Quality)
}

func TestProbeExtractor_GIF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anim.gif")
	data := []byte("GIF89a")
	data = append(data, 0x40, 0x01, 0xF0, 0x00) // 320x240 LE
	require.NoError(t, os.WriteFile(path, data, 0o644))

	meta, err := NewProbeExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 320, *meta.Width)
	assert.Equal(t, 240, *meta.Height)
}

func TestProbeExtractor_UnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not a real video"), 0o644))

	meta, err := NewProbeExtractor().Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "none", meta.Quality)
}

func TestProbeExtractor_MissingFile(t *testing.T) {
	_, err := NewProbeExtractor().Extract(context.Background(), "/nonexistent/x.png")
	assert.Error(t, err)
}

func TestWorkflowType(t *testing.T) {
	wf := []byte(`{"1":{"class_type":"CheckpointLoader"},"2":{"class_type":"KSamplerAdvanced"}}`)
	assert.Equal(t, "KSamplerAdvanced", WorkflowType(wf))
	assert.Empty(t, WorkflowType([]byte(`{"1":{"class_type":"Loader"}}`)))
	assert.Empty(t, WorkflowType(nil))
}

func TestMetadataCache_RoundTrip(t *testing.T) {
	cache, err := OpenMetadataCache(t.TempDir())
	require.NoError(t, err)
	defer cache.Close()

	_, ok, err := cache.Get("/out/a.png", "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	payload := []byte(`{"quality":"full"}`)
	require.NoError(t, cache.Put("/out/a.png", "h1", payload))

	got, ok, err := cache.Get("/out/a.png", "h1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)

	// A different state hash is a different key.
	_, ok, err = cache.Get("/out/a.png", "h2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSidecarSync_WritesSidecar(t *testing.T) {
	dir := t.TempDir()
	asset := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(asset, []byte("x"), 0o644))

	s := NewSidecarSync(4)
	s.Start()
	defer s.Stop()

	require.True(t, s.Enqueue(asset, 4, []string{"portrait", "best"}))

	target := asset + SidecarSuffix
	require.Eventually(t, func() bool {
		_, err := os.Stat(target)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var payload struct {
		Rating int      `json:"rating"`
		Tags   []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 4, payload.Rating)
	assert.Equal(t, []string{"portrait", "best"}, payload.Tags)
}
