package framer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_ReadsValuesUntilEOF(t *testing.T) {
	input := "{\"a\":1}\n[1,2,3]\n\"text\"\n"
	d := NewDecoder(strings.NewReader(input), nil)

	v1, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v1))

	v2, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(v2))

	v3, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `"text"`, string(v3))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_SkipsBlankLines(t *testing.T) {
	d := NewDecoder(strings.NewReader("\n\n  \n{\"x\":true}\n\n"), nil)

	v, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":true}`, string(v))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_UnterminatedFinalLine(t *testing.T) {
	d := NewDecoder(strings.NewReader(`{"last":1}`), nil)

	v, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"last":1}`, string(v))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_MalformedLineDoesNotLoseFollowingMessages(t *testing.T) {
	input := "{\"ok\":1}\n{not json\n{\"ok\":2}\n"
	d := NewDecoder(strings.NewReader(input), nil)

	v, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(v))

	_, err = d.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
	var fe *FrameError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 2, fe.Index)

	v, err = d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":2}`, string(v))
}

func TestDecoder_TwoValuesOnOneLineIsFramingError(t *testing.T) {
	d := NewDecoder(strings.NewReader("1 2\n"), nil)

	_, err := d.Next()
	assert.ErrorIs(t, err, ErrFraming)
}

func TestEncoder_WritesOneLinePerValue(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf, nil)

	require.NoError(t, e.Encode(map[string]any{"id": 1, "reply": false}))
	require.NoError(t, e.Encode([]int{1, 2}))

	assert.Equal(t, "{\"id\":1,\"reply\":false}\n[1,2]\n", buf.String())
}

func TestEncoder_DoesNotEscapeHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewEncoder(&buf, nil).Encode("<a&b>"))
	assert.Equal(t, "\"<a&b>\"\n", buf.String())
}

func TestEncoder_MarshalFailure(t *testing.T) {
	var buf bytes.Buffer
	err := NewEncoder(&buf, nil).Encode(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
	assert.Zero(t, buf.Len())
}

func TestRoundTrip_UTF16(t *testing.T) {
	enc, err := LookupEncoding("utf-16le")
	require.NoError(t, err)

	var buf bytes.Buffer
	e := NewEncoder(&buf, enc)
	require.NoError(t, e.Encode(map[string]any{"method": "foo", "args": []any{"héllo"}}))
	require.NoError(t, e.Encode(map[string]any{"id": 7}))

	// UTF-16 doubles the width of ASCII, so the raw bytes must not look like UTF-8.
	assert.NotContains(t, buf.String(), `"method"`)

	d := NewDecoder(&buf, enc)
	v, err := d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"foo","args":["héllo"]}`, string(v))

	v, err = d.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(v))

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRoundTrip_Values(t *testing.T) {
	values := []any{
		map[string]any{"method": "setCloudId", "args": []any{"cloud123", "tok"}, "id": float64(1)},
		map[string]any{"id": "abc", "reply": false},
		map[string]any{"id": float64(2), "error": "device not found"},
		[]any{},
		nil,
	}

	var buf bytes.Buffer
	e := NewEncoder(&buf, nil)
	for _, v := range values {
		require.NoError(t, e.Encode(v))
	}

	d := NewDecoder(&buf, nil)
	for _, want := range values {
		raw, err := d.Next()
		require.NoError(t, err)
		var got any
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, want, got)
	}
}

func TestEncoder_ConcurrentWritesDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf, nil)

	const n = 50
	payload := strings.Repeat("x", 4096)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, e.Encode(map[string]any{"i": i, "p": payload}))
		}(i)
	}
	wg.Wait()

	d := NewDecoder(&buf, nil)
	seen := make(map[int]bool)
	for {
		raw, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		var msg struct {
			I int    `json:"i"`
			P string `json:"p"`
		}
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, payload, msg.P)
		seen[msg.I] = true
	}
	assert.Len(t, seen, n)
}

func TestLookupEncoding(t *testing.T) {
	for _, name := range []string{"", "utf-8", "UTF8", " utf-8 "} {
		enc, err := LookupEncoding(name)
		require.NoError(t, err, name)
		assert.True(t, passthrough(enc), name)
	}

	enc, err := LookupEncoding("iso-8859-1")
	require.NoError(t, err)
	assert.False(t, passthrough(enc))

	_, err = LookupEncoding("klingon-8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "klingon-8")
}
