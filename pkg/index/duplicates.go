package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"os"
	"sort"

	"github.com/majoor-app/majoor/internal/logger"
	"github.com/majoor-app/majoor/pkg/storage"
)

// hashBatchLimit caps how many files one duplicates request will hash, so
// a first call over a large library stays bounded.
const hashBatchLimit = 500

// DuplicateAsset is one member of a duplicate group.
type DuplicateAsset struct {
	ID        int64   `json:"id"`
	Filepath  string  `json:"filepath"`
	Filename  string  `json:"filename"`
	SizeBytes int64   `json:"size_bytes"`
	Mtime     float64 `json:"mtime"`
}

// DuplicateGroup is a set of assets with identical content, or visually
// similar content for perceptual groups.
type DuplicateGroup struct {
	Hash       string           `json:"hash"`
	Perceptual bool             `json:"perceptual"`
	Assets     []DuplicateAsset `json:"assets"`
}

// DuplicateReport is the full duplicates answer plus hashing progress.
type DuplicateReport struct {
	Groups   []DuplicateGroup `json:"groups"`
	Hashed   int              `json:"hashed"`
	Unhashed int64            `json:"unhashed"`
}

// ComputeMissingHashes hashes up to limit assets whose content hash has
// not been computed yet. Returns how many files were processed and how
// many still wait.
func (ix *Indexer) ComputeMissingHashes(ctx context.Context, limit int) (int, int64, error) {
	if limit <= 0 || limit > hashBatchLimit {
		limit = hashBatchLimit
	}
	rows, err := ix.engine.Query(ctx,
		`SELECT id, filepath, kind FROM assets WHERE hash_state = ? ORDER BY id LIMIT ?`,
		storage.HashStateNone, limit)
	if err != nil {
		return 0, 0, err
	}

	processed := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return processed, 0, ctx.Err()
		}
		id := row.Int64("id")
		path := row.String("filepath")

		content, phash, hashErr := hashFile(path, row.String("kind") == storage.KindImage)
		state := storage.HashStateComputed
		if hashErr != nil {
			state = storage.HashStateFailed
			logger.Debug("content hash failed", "filepath", path, "error", hashErr)
		}
		_, err := ix.engine.Execute(ctx,
			`UPDATE assets SET content_hash = ?, perceptual_hash = ?, hash_state = ? WHERE id = ?`,
			content, phash, state, id)
		if err != nil {
			return processed, 0, err
		}
		processed++
	}

	remaining, err := ix.engine.Query(ctx,
		`SELECT COUNT(*) AS n FROM assets WHERE hash_state = ?`, storage.HashStateNone)
	if err != nil {
		return processed, 0, err
	}
	var unhashed int64
	if len(remaining) == 1 {
		unhashed = remaining[0].Int64("n")
	}
	return processed, unhashed, nil
}

// DuplicateGroups reports exact content duplicates, then clusters the
// remaining images whose perceptual hashes sit within maxHamming bits of
// each other. Hashing of not-yet-hashed assets happens lazily first.
func (ix *Indexer) DuplicateGroups(ctx context.Context, maxHamming int) (*DuplicateReport, error) {
	hashed, unhashed, err := ix.ComputeMissingHashes(ctx, hashBatchLimit)
	if err != nil {
		return nil, err
	}
	report := &DuplicateReport{Groups: []DuplicateGroup{}, Hashed: hashed, Unhashed: unhashed}

	rows, err := ix.engine.Query(ctx,
		`SELECT a.id, a.filepath, a.filename, a.size_bytes, a.mtime, a.content_hash, a.perceptual_hash
		 FROM assets a
		 WHERE a.hash_state = ? AND a.content_hash != ''
		 ORDER BY a.content_hash, a.mtime DESC, a.id`,
		storage.HashStateComputed)
	if err != nil {
		return nil, err
	}

	byContent := make(map[string][]DuplicateAsset)
	phashes := make(map[string]uint64)
	contentOf := make(map[int64]string)
	var order []string
	for _, row := range rows {
		hash := row.String("content_hash")
		if _, seen := byContent[hash]; !seen {
			order = append(order, hash)
		}
		asset := DuplicateAsset{
			ID:        row.Int64("id"),
			Filepath:  row.String("filepath"),
			Filename:  row.String("filename"),
			SizeBytes: row.Int64("size_bytes"),
			Mtime:     row.Float("mtime"),
		}
		byContent[hash] = append(byContent[hash], asset)
		contentOf[asset.ID] = hash
		if ph := row.String("perceptual_hash"); ph != "" {
			if v, err := parsePhash(ph); err == nil {
				phashes[hash] = v
			}
		}
	}

	for _, hash := range order {
		if members := byContent[hash]; len(members) > 1 {
			report.Groups = append(report.Groups, DuplicateGroup{Hash: hash, Assets: members})
		}
	}

	if maxHamming > 0 {
		report.Groups = append(report.Groups, perceptualClusters(byContent, phashes, maxHamming)...)
	}
	return report, nil
}

// perceptualClusters unions content groups whose perceptual hashes are
// within the Hamming bound. Only clusters spanning more than one content
// hash are reported; exact duplicates are already covered.
func perceptualClusters(byContent map[string][]DuplicateAsset, phashes map[string]uint64, maxHamming int) []DuplicateGroup {
	hashes := make([]string, 0, len(phashes))
	for h := range phashes {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	parent := make(map[string]string, len(hashes))
	var find func(string) string
	find = func(h string) string {
		if parent[h] != h {
			parent[h] = find(parent[h])
		}
		return parent[h]
	}
	for _, h := range hashes {
		parent[h] = h
	}
	for i := 0; i < len(hashes); i++ {
		for j := i + 1; j < len(hashes); j++ {
			if bits.OnesCount64(phashes[hashes[i]]^phashes[hashes[j]]) <= maxHamming {
				parent[find(hashes[i])] = find(hashes[j])
			}
		}
	}

	clusters := make(map[string][]string)
	for _, h := range hashes {
		root := find(h)
		clusters[root] = append(clusters[root], h)
	}

	var out []DuplicateGroup
	roots := make([]string, 0, len(clusters))
	for root, members := range clusters {
		if len(members) > 1 {
			roots = append(roots, root)
		}
	}
	sort.Strings(roots)
	for _, root := range roots {
		group := DuplicateGroup{Hash: fmt.Sprintf("phash:%016x", phashes[root]), Perceptual: true}
		for _, h := range clusters[root] {
			group.Assets = append(group.Assets, byContent[h]...)
		}
		sort.Slice(group.Assets, func(i, j int) bool {
			if group.Assets[i].Mtime != group.Assets[j].Mtime {
				return group.Assets[i].Mtime > group.Assets[j].Mtime
			}
			return group.Assets[i].ID < group.Assets[j].ID
		})
		out = append(out, group)
	}
	return out
}

// CaseAlert is one group of filepaths that collide after case folding.
type CaseAlert struct {
	Folded string   `json:"folded"`
	Paths  []string `json:"paths"`
}

// CaseDuplicateAlerts previews the groups CleanupCaseDuplicates would
// collapse, without changing anything.
func (ix *Indexer) CaseDuplicateAlerts(ctx context.Context) ([]CaseAlert, error) {
	rows, err := ix.engine.Query(ctx,
		`SELECT LOWER(filepath) AS folded, filepath FROM assets
		 WHERE LOWER(filepath) IN
		   (SELECT LOWER(filepath) FROM assets GROUP BY LOWER(filepath) HAVING COUNT(*) > 1)
		 ORDER BY folded, filepath`)
	if err != nil {
		return nil, err
	}
	alerts := []CaseAlert{}
	for _, row := range rows {
		folded := row.String("folded")
		if n := len(alerts); n > 0 && alerts[n-1].Folded == folded {
			alerts[n-1].Paths = append(alerts[n-1].Paths, row.String("filepath"))
			continue
		}
		alerts = append(alerts, CaseAlert{Folded: folded, Paths: []string{row.String("filepath")}})
	}
	return alerts, nil
}

// hashFile computes the sha256 content hash and, for decodable images, a
// 64-bit average perceptual hash.
func hashFile(path string, isImage bool) (content, phash string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", "", err
	}
	content = hex.EncodeToString(h.Sum(nil))

	if isImage {
		if _, err := f.Seek(0, io.SeekStart); err == nil {
			if v, aerr := averageHash(f); aerr == nil {
				phash = fmt.Sprintf("%016x", v)
			}
		}
	}
	return content, phash, nil
}

// averageHash downsamples to an 8x8 luminance grid and sets one bit per
// cell above the mean.
func averageHash(r io.Reader) (uint64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, err
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return 0, fmt.Errorf("empty image")
	}

	var cells [64]uint64
	for gy := 0; gy < 8; gy++ {
		for gx := 0; gx < 8; gx++ {
			x := b.Min.X + gx*b.Dx()/8
			y := b.Min.Y + gy*b.Dy()/8
			r16, g16, b16, _ := img.At(x, y).RGBA()
			// BT.601 luma, kept in 16-bit range.
			cells[gy*8+gx] = (299*uint64(r16) + 587*uint64(g16) + 114*uint64(b16)) / 1000
		}
	}
	var mean uint64
	for _, c := range cells {
		mean += c
	}
	mean /= 64

	var out uint64
	for i, c := range cells {
		if c > mean {
			out |= 1 << uint(63-i)
		}
	}
	return out, nil
}

func parsePhash(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "%x", &v)
	return v, err
}
