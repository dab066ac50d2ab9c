package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadJSON_CompleteValues(t *testing.T) {
	values, rest, err := ReadJSON(`{"a":1} {"b":2}`)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": float64(1)}, map[string]any{"b": float64(2)}}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_TruncatedTail(t *testing.T) {
	values, rest, err := ReadJSON("{\"a\":1}\n{\"b\":")
	require.NoError(t, err)
	assert.Len(t, values, 1)
	assert.Equal(t, "\n{\"b\":", rest)

	values, rest, err = ReadJSON(rest + "2}")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"b": float64(2)}}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_DataPrefix(t *testing.T) {
	values, rest, err := ReadJSON("data: {\"a\":1}\n\ndata: [1,2]\n\n")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": float64(1)}, []any{float64(1), float64(2)}}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_RemainderKeepsDataToken(t *testing.T) {
	_, rest, err := ReadJSON("data: {\"a\":1}\ndata: {\"b\"")
	require.NoError(t, err)
	assert.Equal(t, "\ndata: {\"b\"", rest)
}

func TestReadJSON_MalformedTrailingLineIsIncomplete(t *testing.T) {
	values, rest, err := ReadJSON("{\"a\":1}\nnot json")
	require.NoError(t, err)
	assert.Len(t, values, 1)
	assert.Equal(t, "\nnot json", rest)
}

func TestReadJSON_MalformedLineIsSkipped(t *testing.T) {
	values, rest, err := ReadJSON("{\"a\":1}\n{\"b\":x}\n{\"c\":3}\n")
	require.Error(t, err)

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, 7, decErr.Offset)
	assert.Equal(t, []any{
		map[string]any{"a": float64(1)},
		map[string]any{"c": float64(3)},
	}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_MalformedAfterValueOnSameLine(t *testing.T) {
	values, rest, err := ReadJSON("{\"a\":1} oops\n[2]\n")
	require.Error(t, err)
	assert.Equal(t, []any{map[string]any{"a": float64(1)}, []any{float64(2)}}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_SSEDoneIsIgnored(t *testing.T) {
	values, rest, err := ReadJSON("data: {\"a\":1}\n\ndata: [DONE]\n\n")
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"a": float64(1)}}, values)
	assert.Empty(t, rest)

	// Split inside the token.
	values, rest, err = ReadJSON("data: {\"a\":1}\n\ndata: [DO")
	require.NoError(t, err)
	assert.Len(t, values, 1)
	values, rest, err = ReadJSON(rest + "NE]\n\n")
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Empty(t, rest)
}

func TestReadJSON_TrailingNumberHeldBack(t *testing.T) {
	values, rest, err := ReadJSON(`[1] 12`)
	require.NoError(t, err)
	assert.Len(t, values, 1)
	assert.Equal(t, " 12", rest)

	values, rest, err = ReadJSON(rest + "3\n")
	require.NoError(t, err)
	assert.Equal(t, []any{float64(123)}, values)
	assert.Empty(t, rest)
}

func TestReadJSON_Empty(t *testing.T) {
	values, rest, err := ReadJSON("  \n")
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Empty(t, rest)
}

// readChunks feeds chunks through ReadJSON the way a live stream would.
func readChunks(t *testing.T, chunks []string) ([]any, string) {
	t.Helper()
	var all []any
	rest := ""
	for _, c := range chunks {
		values, r, err := ReadJSON(rest + c)
		require.NoError(t, err)
		all = append(all, values...)
		rest = r
	}
	return all, rest
}

func TestReadJSON_ReentrantAtEverySplitPoint(t *testing.T) {
	streams := []string{
		"{\"a\":1}\n[1,2,{\"x\":\"y\"}]\n\"str\\\"ing\"\n{\"b\":{\"c\":null,\"d\":true}}\n",
		"data: {\"a\":1}\n\ndata: {\"text\":\"hé\"}\n\n",
	}
	for _, s := range streams {
		want, rest, err := ReadJSON(s)
		require.NoError(t, err)
		require.Empty(t, rest)

		for i := 0; i <= len(s); i++ {
			got, rest := readChunks(t, []string{s[:i], s[i:]})
			assert.Equal(t, want, got, "split at %d", i)
			assert.Empty(t, rest, "split at %d", i)
		}
	}
}

func TestReadJSON_ReentrantRandomPartitions(t *testing.T) {
	s := "{\"id\":1,\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n" +
		"{\"id\":2,\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n" +
		"[\"a\",\"b\"]\n{\"done\":true}\n"
	want, _, err := ReadJSON(s)
	require.NoError(t, err)
	require.Len(t, want, 4)

	rng := rand.New(rand.NewSource(7))
	for n := 0; n < 200; n++ {
		var chunks []string
		for rest := s; rest != ""; {
			k := 1 + rng.Intn(len(rest))
			chunks = append(chunks, rest[:k])
			rest = rest[k:]
		}
		got, rest := readChunks(t, chunks)
		assert.Equal(t, want, got)
		assert.Empty(t, rest)
	}
}
