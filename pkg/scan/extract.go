package scan

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mwantia/goassets/pkg/log"
)

// maxHeaderSize caps the safetensors header read at 8MB; anything larger is
// treated as corrupt.
const maxHeaderSize = 8 * 1024 * 1024

// customMimeTypes covers the model and config formats the stdlib mime table
// does not know about.
var customMimeTypes = map[string]string{
	".safetensors": "application/safetensors",
	".sft":         "application/safetensors",
	".pt":          "application/pytorch",
	".pth":         "application/pytorch",
	".ckpt":        "application/pickle",
	".pkl":         "application/pickle",
	".gguf":        "application/gguf",
	".yaml":        "application/yaml",
	".yml":         "application/yaml",
}

// ExtractedMetadata is the result of metadata extraction for a single file.
// Tier 1 fields come from the filesystem alone; the rest are parsed out of a
// safetensors header when one is present.
type ExtractedMetadata struct {
	Filename      string
	ContentLength int64
	ContentType   string
	Format        string

	BaseModel        string
	TrainedWords     []string
	Air              string
	HasPreviewImages bool

	SourceURL  string
	SourceARN  string
	RepoURL    string
	PreviewURL string
	SourceHash string

	RepoID     string
	Revision   string
	Filepath   string
	ResolveURL string
}

// UserDocument renders the metadata as the JSON document stored on the
// reference. Empty optional fields are omitted.
func (m *ExtractedMetadata) UserDocument() map[string]any {
	doc := map[string]any{
		"filename":       m.Filename,
		"content_length": m.ContentLength,
		"format":         m.Format,
	}

	setIf := func(key, val string) {
		if val != "" {
			doc[key] = val
		}
	}
	setIf("content_type", m.ContentType)
	setIf("base_model", m.BaseModel)
	setIf("air", m.Air)
	setIf("source_url", m.SourceURL)
	setIf("source_arn", m.SourceARN)
	setIf("repo_url", m.RepoURL)
	setIf("preview_url", m.PreviewURL)
	setIf("source_hash", m.SourceHash)
	setIf("repo_id", m.RepoID)
	setIf("revision", m.Revision)
	setIf("filepath", m.Filepath)
	setIf("resolve_url", m.ResolveURL)

	if len(m.TrainedWords) > 0 {
		words := make([]any, 0, len(m.TrainedWords))
		for _, w := range m.TrainedWords {
			words = append(words, w)
		}
		doc["trained_words"] = words
	}
	if m.HasPreviewImages {
		doc["has_preview_images"] = true
	}

	return doc
}

// Extractor produces metadata for a file, or nil when nothing useful could
// be read.
type Extractor interface {
	Extract(path string, size int64, relativeName string) *ExtractedMetadata
}

// FileExtractor reads filesystem metadata for every file and additionally
// parses the header of safetensors files. Tensor data is never loaded.
type FileExtractor struct {
	log log.LoggerService
}

func NewFileExtractor(logger log.LoggerService) *FileExtractor {
	return &FileExtractor{log: logger}
}

func (e *FileExtractor) Extract(path string, size int64, relativeName string) *ExtractedMetadata {
	meta := &ExtractedMetadata{
		Filename:      filepath.Base(path),
		ContentLength: size,
	}
	if relativeName != "" {
		meta.Filename = relativeName
	}

	ext := strings.ToLower(filepath.Ext(path))
	meta.Format = strings.TrimPrefix(ext, ".")
	meta.ContentType = GuessMimeType(path)

	if ext == ".safetensors" || ext == ".sft" {
		header, err := readSafetensorsHeader(path)
		if err != nil {
			e.log.Debug("Failed to read safetensors header for %s: %v", path, err)
		} else {
			applyHeaderMetadata(header, meta)
		}
	}

	return meta
}

// GuessMimeType resolves a content type from the file extension, preferring
// the model-format table over the stdlib database.
func GuessMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := customMimeTypes[ext]; ok {
		return mt
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		// Strip charset parameters; only the media type is stored.
		if idx := strings.IndexByte(mt, ';'); idx >= 0 {
			mt = strings.TrimSpace(mt[:idx])
		}
		return mt
	}
	return ""
}

// readSafetensorsHeader reads the JSON header of a safetensors file: an
// 8-byte little-endian length followed by that many bytes of JSON.
func readSafetensorsHeader(path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lenBuf [8]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("failed to read header length: %w", err)
	}
	headerLen := binary.LittleEndian.Uint64(lenBuf[:])
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("header length %d exceeds limit", headerLen)
	}

	raw := make([]byte, headerLen)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("failed to read header body: %w", err)
	}

	var header map[string]any
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return header, nil
}

// applyHeaderMetadata copies the recognized __metadata__ fields of a
// safetensors header into meta.
func applyHeaderMetadata(header map[string]any, meta *ExtractedMetadata) {
	raw, ok := header["__metadata__"].(map[string]any)
	if !ok {
		return
	}

	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := raw[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	meta.BaseModel = str("ss_base_model_version", "modelspec.base_model", "base_model")
	meta.Air = str("air", "modelspec.air")

	if freq := str("ss_tag_frequency"); freq != "" {
		meta.TrainedWords = parseTagFrequency(freq)
	}
	if len(meta.TrainedWords) == 0 {
		switch tw := raw["trained_words"].(type) {
		case string:
			var parsed []string
			if err := json.Unmarshal([]byte(tw), &parsed); err == nil {
				meta.TrainedWords = parsed
			} else {
				for _, w := range strings.Split(tw, ",") {
					if w = strings.TrimSpace(w); w != "" {
						meta.TrainedWords = append(meta.TrainedWords, w)
					}
				}
			}
		case []any:
			for _, v := range tw {
				if s, ok := v.(string); ok {
					meta.TrainedWords = append(meta.TrainedWords, s)
				}
			}
		}
	}

	if cover, ok := raw["ssmd_cover_images"]; ok && cover != nil && cover != "" {
		meta.HasPreviewImages = true
	}

	meta.SourceURL = str("source_url")
	meta.SourceARN = str("source_arn")
	meta.RepoURL = str("repo_url")
	meta.PreviewURL = str("preview_url")
	meta.SourceHash = str("source_hash", "sshs_model_hash")

	meta.RepoID = str("repo_id", "hf_repo_id")
	meta.Revision = str("revision", "hf_revision")
	meta.Filepath = str("filepath", "hf_filepath")
	meta.ResolveURL = str("resolve_url", "hf_url")
}

// parseTagFrequency extracts the unique tag names out of a kohya-style
// ss_tag_frequency document, sorted and capped at 100 entries.
func parseTagFrequency(freq string) []string {
	var datasets map[string]map[string]any
	if err := json.Unmarshal([]byte(freq), &datasets); err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	for _, tags := range datasets {
		for tag := range tags {
			seen[tag] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
