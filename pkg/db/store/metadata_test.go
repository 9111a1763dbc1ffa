package store

import (
	"testing"

	"github.com/mwantia/goassets/pkg/db/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowByKey(rows []models.ReferenceMeta, key string, ordinal int) *models.ReferenceMeta {
	for i := range rows {
		if rows[i].Key == key && rows[i].Ordinal == ordinal {
			return &rows[i]
		}
	}
	return nil
}

func TestMetadataToRowsScalars(t *testing.T) {
	rows := MetadataToRows("ref-1", map[string]any{
		"filename":           "model.safetensors",
		"content_length":     1024,
		"has_preview_images": true,
		"deprecated":         nil,
	})
	require.Len(t, rows, 4)

	str := rowByKey(rows, "filename", 0)
	require.NotNil(t, str)
	require.NotNil(t, str.ValStr)
	assert.Equal(t, "model.safetensors", *str.ValStr)
	assert.Nil(t, str.ValNum)

	num := rowByKey(rows, "content_length", 0)
	require.NotNil(t, num)
	require.NotNil(t, num.ValNum)
	assert.EqualValues(t, 1024, *num.ValNum)

	b := rowByKey(rows, "has_preview_images", 0)
	require.NotNil(t, b)
	require.NotNil(t, b.ValBool)
	assert.True(t, *b.ValBool)

	null := rowByKey(rows, "deprecated", 0)
	require.NotNil(t, null)
	assert.Nil(t, null.ValStr)
	assert.Nil(t, null.ValNum)
	assert.Nil(t, null.ValBool)
	assert.Nil(t, null.ValJSON)
}

func TestMetadataToRowsListsExpandByOrdinal(t *testing.T) {
	rows := MetadataToRows("ref-1", map[string]any{
		"trained_words": []any{"alpha", "beta", "gamma"},
	})
	require.Len(t, rows, 3)

	for i, want := range []string{"alpha", "beta", "gamma"} {
		row := rowByKey(rows, "trained_words", i)
		require.NotNil(t, row, "ordinal %d", i)
		require.NotNil(t, row.ValStr)
		assert.Equal(t, want, *row.ValStr)
	}
}

func TestMetadataToRowsNestedValuesGoToJSON(t *testing.T) {
	rows := MetadataToRows("ref-1", map[string]any{
		"source": map[string]any{"url": "https://example.com"},
	})
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ValStr)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(rows[0].ValJSON))
}

func TestMetadataToRowsDeterministicOrder(t *testing.T) {
	doc := map[string]any{"b": 1, "a": 2, "c": 3}
	first := MetadataToRows("ref-1", doc)
	second := MetadataToRows("ref-1", doc)
	require.Equal(t, first, second)
	assert.Equal(t, "a", first[0].Key)
	assert.Equal(t, "c", first[2].Key)
}

func TestSetReferenceMetadataRebuildsProjection(t *testing.T) {
	st := newTestStore(t)
	ctx := t.Context()

	_, refID := seedReference(t, st, "m", "/data/meta.bin", "", nil)

	require.NoError(t, st.SetReferenceMetadata(ctx, refID, map[string]any{
		"base_model": "sdxl",
		"steps":      30,
	}))
	require.NoError(t, st.SetReferenceMetadata(ctx, refID, map[string]any{
		"base_model": "sd15",
	}))

	var rows []models.ReferenceMeta
	require.NoError(t, st.DB().Where("reference_id = ?", refID).Find(&rows).Error)
	require.Len(t, rows, 1, "old projection rows must be replaced")
	require.NotNil(t, rows[0].ValStr)
	assert.Equal(t, "sd15", *rows[0].ValStr)

	ref, err := st.GetReference(ctx, refID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"base_model":"sd15"}`, string(ref.UserMetadata))
}

func TestSetReferenceMetadataUnknownReference(t *testing.T) {
	st := newTestStore(t)
	err := st.SetReferenceMetadata(t.Context(), "no-such-ref", map[string]any{"a": 1})
	assert.Error(t, err)
}
