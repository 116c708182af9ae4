package codec_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jabolina/go-nrpc/pkg/nrpc/codec"
	"github.com/jabolina/go-nrpc/pkg/nrpc/schema"
	"github.com/jabolina/go-nrpc/pkg/nrpc/value"
)

func bookRegistry() *schema.Registry {
	r := schema.NewRegistry()
	_ = r.AddTypes([]schema.TypeDescriptor{
		{
			TypeName: "book",
			Local:    true,
			Fields: []schema.FieldDescriptor{
				{FieldName: "title", FieldType: "str", IDValue: 0, Local: true},
				{FieldName: "pages", FieldType: "int", IDValue: 1, Local: true},
				{FieldName: "rating", FieldType: "float", IDValue: 2, Local: true},
				{FieldName: "tags", FieldType: "str[]", IDValue: 3, Local: true},
				{FieldName: "author", FieldType: "author", IDValue: 4, Local: true},
			},
		},
		{
			TypeName: "author",
			Local:    true,
			Fields: []schema.FieldDescriptor{
				{FieldName: "name", FieldType: "str", IDValue: 0, Local: true},
			},
		},
	}, nil)
	return r
}

type author struct {
	Name string `nrpc:"name"`
}

type book struct {
	Title  string   `nrpc:"title"`
	Pages  int      `nrpc:"pages"`
	Rating float64  `nrpc:"rating"`
	Tags   []string `nrpc:"tags"`
	Author *author  `nrpc:"author"`
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	registry := bookRegistry()
	in := book{
		Title:  "Dune",
		Pages:  412,
		Rating: 4.5,
		Tags:   []string{"sci-fi", "classic"},
		Author: &author{Name: "Frank Herbert"},
	}

	data, err := codec.Encode(registry, "book", in)
	require.NoError(t, err)

	var out book
	require.NoError(t, codec.Decode(registry, "book", data, &out))
	assert.Equal(t, in, out)
}

func TestEncodeOmitsNonLocalFields(t *testing.T) {
	registry := schema.NewRegistry()
	_ = registry.AddTypes([]schema.TypeDescriptor{
		{
			TypeName: "partial",
			Local:    true,
			Fields: []schema.FieldDescriptor{
				{FieldName: "known", FieldType: "str", IDValue: 0, Local: true},
				{FieldName: "unknown", FieldType: "str", IDValue: 1, Local: false},
			},
		},
	}, nil)

	data, err := codec.Encode(registry, "partial", struct {
		Known string `nrpc:"known"`
	}{Known: "yes"})
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &m))
	_, hasUnknown := m["unknown"]
	assert.False(t, hasUnknown)
	assert.Equal(t, "yes", m["known"])
}

func TestDecodeMissingFieldKeepsDefault(t *testing.T) {
	registry := bookRegistry()
	data := []byte(`{"title": "Partial"}`)

	out := book{Pages: 99}
	require.NoError(t, codec.Decode(registry, "book", data, &out))
	assert.Equal(t, "Partial", out.Title)
	assert.Equal(t, 99, out.Pages)
}

func TestDecodeNestedNullRecordBecomesDefault(t *testing.T) {
	registry := bookRegistry()
	data := []byte(`{"title": "No Author", "author": null}`)

	out := book{Author: &author{Name: "stale"}}
	require.NoError(t, codec.Decode(registry, "book", data, &out))
	assert.Nil(t, out.Author)
}

func TestDecodeScalarTypeMismatchFails(t *testing.T) {
	registry := bookRegistry()
	data := []byte(`{"title": "Oops", "pages": "not a number"}`)

	var out book
	err := codec.Decode(registry, "book", data, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, codec.ErrTypeMismatch)
}

func TestDecodeAcceptsIntegerForFloat(t *testing.T) {
	registry := bookRegistry()
	data := []byte(`{"title": "Laxity", "rating": 5}`)

	var out book
	require.NoError(t, codec.Decode(registry, "book", data, &out))
	assert.Equal(t, 5.0, out.Rating)
}

func TestDictPassthrough(t *testing.T) {
	registry := schema.NewRegistry()
	data := []byte(`{"anything": 1, "goes": "here"}`)

	var out map[string]interface{}
	require.NoError(t, codec.Decode(registry, schema.DynamicObject, data, &out))
	assert.Equal(t, float64(1), out["anything"])
	assert.Equal(t, "here", out["goes"])
}

func TestValueBridgeRoundTrip(t *testing.T) {
	registry := bookRegistry()
	rec := value.Record{TypeName: "book"}
	rec.Set("title", value.Scalar{V: "Hyperion"})
	rec.Set("pages", value.Scalar{V: float64(482)})

	data, err := codec.EncodeValue(rec)
	require.NoError(t, err)

	v, err := codec.DecodeToValue(registry, "book", data)
	require.NoError(t, err)

	got, ok := v.(value.Record)
	require.True(t, ok)
	title, ok := got.Get("title")
	require.True(t, ok)
	assert.Equal(t, value.Scalar{V: "Hyperion"}, title)
}
