package extract

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/majoor-app/majoor/pkg/errcode"
)

// maxProbeBytes bounds how much of a file the probe reads.
const maxProbeBytes = 8 << 20 // 8 MiB covers PNG text chunks before IDAT in practice

// ProbeExtractor reads dimensions and embedded workflow payloads directly
// from file headers. PNG text chunks carry the generation pipeline's
// workflow JSON; JPEG and GIF yield dimensions only.
type ProbeExtractor struct{}

// NewProbeExtractor returns the default extractor.
func NewProbeExtractor() *ProbeExtractor { return &ProbeExtractor{} }

// Extract implements Extractor.
func (p *ProbeExtractor) Extract(ctx context.Context, path string) (*ExtractedMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errcode.Wrap(errcode.MetadataFailed, "cannot open file", err)
	}
	defer f.Close()

	head := make([]byte, 16)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errcode.Wrap(errcode.MetadataFailed, "cannot read file header", err)
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errcode.Wrap(errcode.MetadataFailed, "seek failed", err)
	}

	switch {
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return probePNG(f)
	case bytes.HasPrefix(head, []byte{0xFF, 0xD8}):
		return probeJPEG(f)
	case bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a")):
		return probeGIF(f)
	default:
		// Videos, audio, and model files need an external probe backend
		// (ffprobe); without one they carry no derived metadata.
		return &ExtractedMetadata{Quality: "none"}, nil
	}
}

// probePNG walks PNG chunks: IHDR for dimensions, tEXt/iTXt for workflow
// and generation payloads under the conventional "workflow" and "prompt"
// keywords.
func probePNG(f *os.File) (*ExtractedMetadata, error) {
	meta := &ExtractedMetadata{Quality: "partial"}

	if _, err := f.Seek(8, io.SeekStart); err != nil {
		return nil, errcode.Wrap(errcode.MetadataFailed, "seek failed", err)
	}

	var read int64
	hdr := make([]byte, 8)
	for read < maxProbeBytes {
		if _, err := io.ReadFull(f, hdr); err != nil {
			break
		}
		length := binary.BigEndian.Uint32(hdr[:4])
		ctype := string(hdr[4:8])
		read += int64(length) + 12

		switch ctype {
		case "IHDR":
			data := make([]byte, 8)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, errcode.Wrap(errcode.ParseError, "truncated IHDR", err)
			}
			w := int(binary.BigEndian.Uint32(data[:4]))
			h := int(binary.BigEndian.Uint32(data[4:8]))
			meta.Width, meta.Height = &w, &h
			// Skip remaining IHDR bytes + CRC.
			if _, err := f.Seek(int64(length)-8+4, io.SeekCurrent); err != nil {
				return nil, err
			}
		case "tEXt", "iTXt":
			if length > maxProbeBytes {
				if _, err := f.Seek(int64(length)+4, io.SeekCurrent); err != nil {
					return nil, err
				}
				continue
			}
			data := make([]byte, length)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, errcode.Wrap(errcode.ParseError, "truncated text chunk", err)
			}
			if _, err := f.Seek(4, io.SeekCurrent); err != nil { // CRC
				return nil, err
			}
			keyword, text := splitTextChunk(ctype, data)
			applyTextPayload(meta, keyword, text)
		case "IDAT", "IEND":
			// Metadata chunks precede image data.
			finishPNG(meta)
			return meta, nil
		default:
			if _, err := f.Seek(int64(length)+4, io.SeekCurrent); err != nil {
				return nil, err
			}
		}
	}
	finishPNG(meta)
	return meta, nil
}

func finishPNG(meta *ExtractedMetadata) {
	if meta.Width != nil && meta.HasWorkflow() {
		meta.Quality = "full"
	}
	if raw, err := json.Marshal(meta); err == nil {
		meta.Raw = raw
	}
}

// splitTextChunk returns the keyword and text of a tEXt or iTXt chunk.
func splitTextChunk(ctype string, data []byte) (string, []byte) {
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil
	}
	keyword := string(data[:i])
	rest := data[i+1:]
	if ctype == "tEXt" {
		return keyword, rest
	}
	// iTXt: compression flag, compression method, language tag\0,
	// translated keyword\0, then text. Compressed payloads are skipped.
	if len(rest) < 2 || rest[0] != 0 {
		return keyword, nil
	}
	rest = rest[2:]
	for n := 0; n < 2; n++ {
		j := bytes.IndexByte(rest, 0)
		if j < 0 {
			return keyword, nil
		}
		rest = rest[j+1:]
	}
	return keyword, rest
}

// applyTextPayload attaches a recognized text chunk to the metadata.
func applyTextPayload(meta *ExtractedMetadata, keyword string, text []byte) {
	if len(text) == 0 {
		return
	}
	switch strings.ToLower(keyword) {
	case "workflow":
		if json.Valid(text) {
			meta.Workflow = json.RawMessage(bytes.Clone(text))
		}
	case "prompt", "parameters", "generation_data":
		if json.Valid(text) {
			meta.GenerationData = json.RawMessage(bytes.Clone(text))
		}
	}
}

// WorkflowType extracts a coarse workflow type from a workflow payload:
// the class_type of the first sampler-ish node, or "" when absent. Uses
// streaming field access so large graphs are not fully decoded.
func WorkflowType(workflow []byte) string {
	if len(workflow) == 0 {
		return ""
	}
	var found string
	_ = jsonparser.ObjectEach(workflow, func(_ []byte, value []byte, dataType jsonparser.ValueType, _ int) error {
		if found != "" || dataType != jsonparser.Object {
			return nil
		}
		ct, err := jsonparser.GetString(value, "class_type")
		if err != nil {
			return nil
		}
		if strings.Contains(strings.ToLower(ct), "sampler") {
			found = ct
		}
		return nil
	})
	return found
}

// probeJPEG scans segment markers for an SOF frame header.
func probeJPEG(f *os.File) (*ExtractedMetadata, error) {
	meta := &ExtractedMetadata{Quality: "partial"}

	if _, err := f.Seek(2, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(f, buf[:2]); err != nil {
			break
		}
		if buf[0] != 0xFF {
			break
		}
		marker := buf[1]
		if marker == 0xD8 || (marker >= 0xD0 && marker <= 0xD7) {
			continue // no length field
		}
		if _, err := io.ReadFull(f, buf[2:4]); err != nil {
			break
		}
		segLen := int(binary.BigEndian.Uint16(buf[2:4]))
		if segLen < 2 {
			break
		}
		isSOF := (marker >= 0xC0 && marker <= 0xCF) && marker != 0xC4 && marker != 0xC8 && marker != 0xCC
		if isSOF {
			data := make([]byte, 5)
			if _, err := io.ReadFull(f, data); err != nil {
				break
			}
			h := int(binary.BigEndian.Uint16(data[1:3]))
			w := int(binary.BigEndian.Uint16(data[3:5]))
			meta.Width, meta.Height = &w, &h
			break
		}
		if _, err := f.Seek(int64(segLen)-2, io.SeekCurrent); err != nil {
			break
		}
	}
	if raw, err := json.Marshal(meta); err == nil {
		meta.Raw = raw
	}
	if meta.Width == nil {
		return meta, errcode.New(errcode.ParseError, "no SOF marker found")
	}
	return meta, nil
}

// probeGIF reads the logical screen descriptor.
func probeGIF(f *os.File) (*ExtractedMetadata, error) {
	data := make([]byte, 10)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, errcode.Wrap(errcode.ParseError, "truncated GIF header", err)
	}
	w := int(binary.LittleEndian.Uint16(data[6:8]))
	h := int(binary.LittleEndian.Uint16(data[8:10]))
	meta := &ExtractedMetadata{Width: &w, Height: &h, Quality: "partial"}
	if raw, err := json.Marshal(meta); err == nil {
		meta.Raw = raw
	}
	return meta, nil
}

// String implements fmt.Stringer for debug logging.
func (m *ExtractedMetadata) String() string {
	w, h := 0, 0
	if m.Width != nil {
		w = *m.Width
	}
	if m.Height != nil {
		h = *m.Height
	}
	return fmt.Sprintf("meta{%dx%d quality=%s workflow=%t}", w, h, m.Quality, m.HasWorkflow())
}
