package warc

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustWrite(t *testing.T, w *Writer, rec *Record) {
	t.Helper()
	require.NoError(t, w.Write(rec))
}

func TestWriteReadRoundTrip(t *testing.T) {
	w, err := NewWriter()
	require.NoError(t, err)

	rec := &Record{
		Request:  Request{URL: "http://example.com/a"},
		Response: Response{Body: "<html>hello</html>", PayloadType: PayloadHTML, HasPayload: true},
		Metadata: Metadata{FetchTimeMs: 1234},
	}
	mustWrite(t, w, rec)

	rec2 := &Record{
		Request:  Request{URL: "http://example.com/b"},
		Response: Response{Body: "<html>world</html>"},
		Metadata: Metadata{FetchTimeMs: 5678},
	}
	mustWrite(t, w, rec2)

	data, err := w.Finish()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	file := New(data)
	it, err := file.Records()
	require.NoError(t, err)

	first, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, "http://example.com/a", first.Request.URL)
	require.Equal(t, "<html>hello</html>", first.Response.Body)
	require.True(t, first.Response.HasPayload)
	require.Equal(t, PayloadHTML, first.Response.PayloadType)
	require.EqualValues(t, 1234, first.Metadata.FetchTimeMs)

	second, err := it.Next()
	require.NoError(t, err)
	require.Equal(t, "http://example.com/b", second.Request.URL)
	require.False(t, second.Response.HasPayload)

	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestDeduplicatedWriterDropsRepeatedURL(t *testing.T) {
	w, err := NewDeduplicated()
	require.NoError(t, err)

	rec := &Record{Request: Request{URL: "http://example.com/dup"}, Response: Response{Body: "one"}}
	require.NoError(t, w.Write(rec))
	require.NoError(t, w.Write(rec))
	require.Equal(t, 1, w.NumWrites())

	data, err := w.Finish()
	require.NoError(t, err)

	it, err := New(data).Records()
	require.NoError(t, err)

	_, err = it.Next()
	require.NoError(t, err)
	_, err = it.Next()
	require.ErrorIs(t, err, io.EOF)
}
