package warc

import (
	"bytes"
	"crypto/md5"
	"fmt"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Writer serializes Records into the same WARC/1.0 byte shape RecordIterator
// reads back: a leading warcinfo record, then a request/response/metadata
// triple per write, gzip-compressed at best-compression level.
type Writer struct {
	buf       bytes.Buffer
	gz        *gzip.Writer
	numWrites int
}

// NewWriter opens a fresh Writer and immediately emits the warcinfo
// record, so even an empty file carries the leading record readers skip.
func NewWriter() (*Writer, error) {
	w := &Writer{}
	w.gz, _ = gzip.NewWriterLevel(&w.buf, gzip.BestCompression)

	date := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	content := fmt.Sprintf("ISPARTOF: crawl[%s]", date)

	if err := w.writeAll(
		"WARC/1.0\r\n",
		"WARC-Type: warcinfo\r\n",
		fmt.Sprintf("Content-Length: %d\r\n", len(content)),
		"\r\n",
		content,
		"\r\n\r\n",
	); err != nil {
		return nil, err
	}
	if err := w.gz.Flush(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) writeAll(parts ...string) error {
	for _, p := range parts {
		if _, err := w.gz.Write([]byte(p)); err != nil {
			return err
		}
	}
	return nil
}

// Write appends one request/response/metadata triple for record.
func (w *Writer) Write(record *Record) error {
	if err := w.writeAll(
		"WARC/1.0\r\n",
		"WARC-Type: request\r\n",
		fmt.Sprintf("WARC-Target-URI: %s\r\n", record.Request.URL),
		"Content-Length: 0\r\n",
		"\r\n",
		"\r\n\r\n",
	); err != nil {
		return err
	}

	header := []string{"WARC/1.0\r\n", "WARC-Type: response\r\n", "Content-Type: application/http;msgtype=response\r\n"}
	if record.Response.HasPayload {
		header = append(header, fmt.Sprintf("WARC-Identified-Payload-Type: %s\r\n", record.Response.PayloadType))
	}
	body := record.Response.Body
	contentLen := len(body) + 4 // +4 for the \r\n\r\n between http header and body
	header = append(header, fmt.Sprintf("Content-Length: %d\r\n", contentLen), "\r\n", "\r\n\r\n")
	if err := w.writeAll(header...); err != nil {
		return err
	}
	if err := w.writeAll(body, "\r\n\r\n"); err != nil {
		return err
	}

	metaBody := fmt.Sprintf("fetchTimeMs: %d", record.Metadata.FetchTimeMs)
	if err := w.writeAll(
		"WARC/1.0\r\n",
		"WARC-Type: metadata\r\n",
		"Content-Type: application/warc-fields\r\n",
		fmt.Sprintf("Content-Length: %d\r\n", len(metaBody)),
		"\r\n",
		metaBody,
		"\r\n\r\n",
	); err != nil {
		return err
	}

	if err := w.gz.Flush(); err != nil {
		return err
	}
	w.numWrites++
	return nil
}

// Finish closes the gzip stream and returns the complete WARC file bytes.
func (w *Writer) Finish() ([]byte, error) {
	if err := w.gz.Close(); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

// NumBytes reports the number of compressed bytes written so far.
func (w *Writer) NumBytes() int { return w.buf.Len() }

// NumWrites reports the number of record triples written so far.
func (w *Writer) NumWrites() int { return w.numWrites }

// DeduplicatedWriter wraps Writer, skipping any record whose request URL
// (hashed with MD5) has already been written once.
type DeduplicatedWriter struct {
	writer *Writer
	seen   map[[md5.Size]byte]struct{}
}

// NewDeduplicated opens a fresh deduplicating writer.
func NewDeduplicated() (*DeduplicatedWriter, error) {
	w, err := NewWriter()
	if err != nil {
		return nil, err
	}
	return &DeduplicatedWriter{writer: w, seen: make(map[[md5.Size]byte]struct{})}, nil
}

// Write appends record unless its URL was already written to this file.
func (w *DeduplicatedWriter) Write(record *Record) error {
	hash := md5.Sum([]byte(record.Request.URL))
	if _, ok := w.seen[hash]; ok {
		return nil
	}
	w.seen[hash] = struct{}{}
	return w.writer.Write(record)
}

// Finish closes the underlying writer and returns the complete file bytes.
func (w *DeduplicatedWriter) Finish() ([]byte, error) { return w.writer.Finish() }

// NumBytes reports the number of compressed bytes written so far.
func (w *DeduplicatedWriter) NumBytes() int { return w.writer.NumBytes() }

// NumWrites reports the number of record triples actually written
// (post-dedup) so far.
func (w *DeduplicatedWriter) NumWrites() int { return w.writer.NumWrites() }
