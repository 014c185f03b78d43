package conversation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettings_RoundTrip(t *testing.T) {
	when := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	s := Settings{}
	s.Set("app", "jarvis")
	s.Set("count", 3)
	s.Set("ratio", 0.5)
	s.Set("ok", true)
	s.Set("tags", []string{"a", "b"})
	s.Set("ids", []int{1, 2})
	s.Set("when", when)
	s.Set("nothing", nil)
	s.Set("draft", Note{Title: "groceries", Body: "milk", Tags: []string{"home"}})
	s.Set("archive", []Note{{Title: "a", Body: "b", Pinned: true}})
	s.Set("nested", map[string]any{
		"note":  Note{Title: "inner", Body: "x"},
		"items": []any{"one", 2, Note{Title: "deep", Body: "y"}},
	})

	text, err := s.Encode()
	require.NoError(t, err)

	decoded, err := DecodeSettings(text)
	require.NoError(t, err)
	assert.Equal(t, s, decoded)

	note, ok := Get[Note](decoded, "draft")
	require.True(t, ok)
	assert.Equal(t, "groceries", note.Title)
	assert.Equal(t, KindNotes, decoded["archive"].Kind())
	assert.Equal(t, "jarvis", decoded.String("app"))
	assert.Equal(t, int64(3), decoded.Int("count"))
	assert.True(t, decoded.Bool("ok"))
	assert.True(t, decoded["nothing"].IsNull())

	nested, ok := As[map[string]Value](decoded["nested"])
	require.True(t, ok)
	inner, ok := As[Note](nested["note"])
	require.True(t, ok)
	assert.Equal(t, "inner", inner.Title)
}

func TestSettings_Envelope(t *testing.T) {
	data, err := json.Marshal(Of(Note{Title: "t", Body: "b"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"note","value":{"title":"t","body":"b"}}`, string(data))

	data, err = json.Marshal(Int(7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"int","value":7}`, string(data))
}

func TestDecodeSettings_LegacyShapes(t *testing.T) {
	legacy := `{
		"app": "jarvis",
		"count": 4,
		"ratio": 1.5,
		"note": {"title": "t", "body": "b"},
		"notes": [{"title": "a", "body": "x"}, {"title": "b", "body": "y", "pinned": true}],
		"other": {"title": "t", "author": "someone"},
		"list": [1, "two", null]
	}`
	s, err := DecodeSettings(legacy)
	require.NoError(t, err)

	assert.Equal(t, KindString, s["app"].Kind())
	assert.Equal(t, int64(4), s.Int("count"))
	assert.Equal(t, KindFloat, s["ratio"].Kind())
	assert.Equal(t, KindNote, s["note"].Kind())
	notes, ok := Get[[]Note](s, "notes")
	require.True(t, ok)
	assert.Len(t, notes, 2)
	assert.True(t, notes[1].Pinned)
	assert.Equal(t, KindMap, s["other"].Kind())
	assert.Equal(t, List(Int(1), String("two"), Null()), s["list"])
}

func TestDecodeSettings_UnknownKindFallsBack(t *testing.T) {
	s, err := DecodeSettings(`{"x": {"kind": "mystery", "value": 1}}`)
	require.NoError(t, err)
	m, ok := As[map[string]Value](s["x"])
	require.True(t, ok)
	assert.Equal(t, String("mystery"), m["kind"])
}

func TestDecodeSettings_Empty(t *testing.T) {
	s, err := DecodeSettings("")
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = DecodeSettings("null")
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = DecodeSettings("[1,2]")
	assert.Error(t, err)
}

func TestOf_UnregisteredStruct(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	v := Of(point{X: 3})
	assert.Equal(t, KindMap, v.Kind())
	m, _ := As[map[string]Value](v)
	assert.Equal(t, Int(3), m["x"])
}

func TestSettings_Keys(t *testing.T) {
	s := Settings{}
	s.Set("b", 1)
	s.Set("a", 2)
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}
