package index

import (
	"path/filepath"
	"strings"
)

// kindByExt maps known extensions to asset kinds. Unknown extensions are
// ignored by the scanner.
var kindByExt = map[string]string{
	// images
	"png":  "image",
	"jpg":  "image",
	"jpeg": "image",
	"gif":  "image",
	"webp": "image",
	"bmp":  "image",
	"tiff": "image",
	"avif": "image",
	// videos
	"mp4":  "video",
	"webm": "video",
	"mov":  "video",
	"mkv":  "video",
	"avi":  "video",
	// audio
	"mp3":  "audio",
	"wav":  "audio",
	"flac": "audio",
	"ogg":  "audio",
	// 3d models
	"glb":  "model3d",
	"gltf": "model3d",
	"obj":  "model3d",
	"fbx":  "model3d",
	"stl":  "model3d",
}

// ClassifyExt returns the extension (lowercased, no dot) and kind for a
// path. ok is false for unknown kinds.
func ClassifyExt(path string) (ext, kind string, ok bool) {
	ext = strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	kind, ok = kindByExt[ext]
	return ext, kind, ok
}
