package scan

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSafetensors writes a minimal safetensors file: the 8-byte little-endian
// header length, the JSON header, and a token tensor payload.
func writeSafetensors(t *testing.T, dir, name string, metadata map[string]any) string {
	t.Helper()

	header := map[string]any{
		"__metadata__": metadata,
		"weight": map[string]any{
			"dtype":        "F32",
			"shape":        []int{1},
			"data_offsets": []int{0, 4},
		},
	}
	raw, err := json.Marshal(header)
	require.NoError(t, err)

	buf := make([]byte, 8, 8+len(raw)+4)
	binary.LittleEndian.PutUint64(buf, uint64(len(raw)))
	buf = append(buf, raw...)
	buf = append(buf, 0, 0, 0, 0)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func TestGuessMimeType(t *testing.T) {
	assert.Equal(t, "application/safetensors", GuessMimeType("model.safetensors"))
	assert.Equal(t, "application/safetensors", GuessMimeType("MODEL.SFT"))
	assert.Equal(t, "application/pytorch", GuessMimeType("weights.pt"))
	assert.Equal(t, "application/pickle", GuessMimeType("old.ckpt"))
	assert.Equal(t, "application/gguf", GuessMimeType("llm.gguf"))
	assert.Equal(t, "application/yaml", GuessMimeType("config.yml"))
	assert.Equal(t, "image/png", GuessMimeType("img.png"))
	assert.Empty(t, GuessMimeType("noext"))

	// Charset parameters from the stdlib table are stripped.
	assert.NotContains(t, GuessMimeType("page.html"), ";")
}

func TestExtractPlainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	meta := NewFileExtractor(testLogger()).Extract(path, 4, "batch/img.png")
	require.NotNil(t, meta)
	assert.Equal(t, "batch/img.png", meta.Filename)
	assert.EqualValues(t, 4, meta.ContentLength)
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, "image/png", meta.ContentType)
	assert.Empty(t, meta.BaseModel)
}

func TestExtractSafetensorsHeader(t *testing.T) {
	freq, err := json.Marshal(map[string]map[string]int{
		"dataset": {"1girl": 120, "absurdres": 40},
	})
	require.NoError(t, err)

	path := writeSafetensors(t, t.TempDir(), "lora.safetensors", map[string]any{
		"ss_base_model_version": "sdxl_base_v1-0",
		"ss_tag_frequency":      string(freq),
		"ssmd_cover_images":     "[\"...\"]",
		"air":                   "urn:air:sdxl:lora:civitai:1234",
		"source_url":            "https://example.com/lora",
		"hf_repo_id":            "someone/lora",
	})

	meta := NewFileExtractor(testLogger()).Extract(path, 0, "")
	require.NotNil(t, meta)
	assert.Equal(t, "lora.safetensors", meta.Filename)
	assert.Equal(t, "application/safetensors", meta.ContentType)
	assert.Equal(t, "sdxl_base_v1-0", meta.BaseModel)
	assert.Equal(t, []string{"1girl", "absurdres"}, meta.TrainedWords)
	assert.True(t, meta.HasPreviewImages)
	assert.Equal(t, "urn:air:sdxl:lora:civitai:1234", meta.Air)
	assert.Equal(t, "https://example.com/lora", meta.SourceURL)
	assert.Equal(t, "someone/lora", meta.RepoID)

	doc := meta.UserDocument()
	assert.Equal(t, "sdxl_base_v1-0", doc["base_model"])
	assert.Equal(t, true, doc["has_preview_images"])
	assert.NotContains(t, doc, "repo_url")
}

func TestExtractCorruptSafetensorsKeepsBasics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.safetensors")
	require.NoError(t, os.WriteFile(path, []byte("not a header"), 0o644))

	meta := NewFileExtractor(testLogger()).Extract(path, 12, "")
	require.NotNil(t, meta, "header failures never discard the basics")
	assert.Equal(t, "application/safetensors", meta.ContentType)
	assert.Empty(t, meta.BaseModel)
}

func TestReadSafetensorsHeaderRejectsOversized(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "huge.safetensors")

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], maxHeaderSize+1)
	require.NoError(t, os.WriteFile(path, buf[:], 0o644))

	_, err := readSafetensorsHeader(path)
	assert.Error(t, err)
}

func TestParseTagFrequency(t *testing.T) {
	out := parseTagFrequency(`{"a": {"zebra": 1, "apple": 2}, "b": {"apple": 3}}`)
	assert.Equal(t, []string{"apple", "zebra"}, out)

	assert.Nil(t, parseTagFrequency("not json"))
	assert.Nil(t, parseTagFrequency(`{}`))
}
