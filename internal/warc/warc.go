// Package warc reads and writes WARC 1.0 files the way the indexing
// pipeline consumes them: gzip-compressed, grouped into request/
// response-or-revisit/metadata triples, one triple per crawled page.
package warc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/klauspost/compress/gzip"
)

// File holds the raw (gzip-compressed) bytes of one WARC file and hands
// out a fresh RecordIterator over them.
type File struct {
	bytes []byte
}

// New wraps raw WARC bytes.
func New(b []byte) *File { return &File{bytes: b} }

// Open reads a WARC file from disk.
func Open(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(b), nil
}

// Records returns a fresh iterator over this file's WARC records.
// klauspost/compress's gzip.Reader transparently concatenates multistream
// members the way flate2's MultiGzDecoder does, so a WARC file written as
// several gzip members decodes as one continuous stream.
func (f *File) Records() (*RecordIterator, error) {
	gz, err := gzip.NewReader(bytes.NewReader(f.bytes))
	if err != nil {
		return nil, fmt.Errorf("warc: open gzip stream: %w", err)
	}
	gz.Multistream(true)
	return &RecordIterator{r: bufio.NewReader(gz)}, nil
}

// PayloadType is the narrow menu of content types the pipeline recognizes.
type PayloadType int

const (
	PayloadUnknown PayloadType = iota
	PayloadHTML
	PayloadPDF
	PayloadRSS
	PayloadAtom
)

func parsePayloadType(s string) (PayloadType, bool) {
	switch s {
	case "application/html", "text/html":
		return PayloadHTML, true
	case "application/pdf":
		return PayloadPDF, true
	case "application/rss", "application/rss+xml":
		return PayloadRSS, true
	case "application/atom", "application/atom+xml":
		return PayloadAtom, true
	default:
		return PayloadUnknown, false
	}
}

func (p PayloadType) String() string {
	switch p {
	case PayloadHTML:
		return "text/html"
	case PayloadPDF:
		return "application/pdf"
	case PayloadRSS:
		return "application/rss"
	case PayloadAtom:
		return "application/atom"
	default:
		return ""
	}
}

// Request is the WARC-Target-URI carried by a "request" record.
type Request struct {
	URL string
}

// Response is the decoded HTTP body from a "response" (or "revisit")
// record, plus whatever payload type the crawler identified.
type Response struct {
	Body        string
	PayloadType PayloadType
	HasPayload  bool
}

// Metadata carries the crawl-time fields tracked per page. Only
// fetchTimeMs is parsed today; extra "key: value" lines are ignored,
// skipping anything but the field being looked for.
type Metadata struct {
	FetchTimeMs uint64
}

// Record is one fully assembled page: its request, response and metadata
// triple.
type Record struct {
	Request  Request
	Response Response
	Metadata Metadata
}

type rawRecord struct {
	header  map[string]string
	content []byte
}

// RecordIterator walks a decompressed WARC byte stream, grouping raw
// records into Record triples and skipping the leading warcinfo record.
type RecordIterator struct {
	r        *bufio.Reader
	numReads int
}

// decodeString turns raw bytes into a string, preferring strict UTF-8 and
// falling back to a lossy conversion when the bytes aren't valid UTF-8.
// Charset detection would only ever look at the first 64 bytes; with no
// detector wired (see DESIGN.md), the lossy fallback is always safe and
// never panics.
func decodeString(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	return strings.ToValidUTF8(string(raw), "�")
}

func rtrim(s string) string { return strings.TrimRight(s, " \t\r\n") }

// nextRaw reads one raw WARC record (version line, header block, content,
// trailing CRLFCRLF) or returns (nil, nil) at clean end of stream.
func (it *RecordIterator) nextRaw() (*rawRecord, error) {
	version, err := it.r.ReadString('\n')
	if err != nil && len(version) == 0 {
		return nil, nil
	}
	version = rtrim(version)
	if version == "" {
		return nil, nil
	}
	if !strings.HasPrefix(strings.ToUpper(version), "WARC/1.") {
		return nil, neoserr.NewWarcParse("unknown WARC version")
	}

	header := make(map[string]string)
	for {
		line, err := it.r.ReadString('\n')
		if err != nil && line == "" {
			return nil, err
		}
		if line == "\r\n" || line == "" {
			break
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, neoserr.NewWarcParse("header line without colon")
		}
		key := line[:idx]
		value := line[idx+1:]
		value = strings.TrimSuffix(value, "\r\n")
		value = strings.TrimSuffix(value, "\n")
		value = strings.TrimPrefix(value, " ")
		header[strings.ToUpper(key)] = value
	}

	lenStr, ok := header["CONTENT-LENGTH"]
	if !ok {
		return nil, neoserr.NewWarcParse("record has no content-length")
	}
	contentLen, err := strconv.Atoi(lenStr)
	if err != nil {
		return nil, neoserr.NewWarcParse("could not parse content length")
	}

	content := make([]byte, contentLen)
	if _, err := io.ReadFull(it.r, content); err != nil {
		return nil, err
	}

	var linefeed [4]byte
	if _, err := io.ReadFull(it.r, linefeed[:]); err != nil {
		return nil, err
	}
	if linefeed != [4]byte{13, 10, 13, 10} {
		return nil, neoserr.NewWarcParse("invalid record ending")
	}

	return &rawRecord{header: header, content: content}, nil
}

func requestFromRaw(r *rawRecord) (Request, error) {
	url, ok := r.header["WARC-TARGET-URI"]
	if !ok {
		return Request{}, neoserr.NewWarcParse("no target url")
	}
	return Request{URL: url}, nil
}

func responseFromRaw(r *rawRecord) (Response, error) {
	content := decodeString(r.content)
	_, body, ok := strings.Cut(content, "\r\n\r\n")
	if !ok {
		return Response{}, neoserr.NewWarcParse("invalid http body")
	}
	resp := Response{Body: body}
	if pt, ok := r.header["WARC-IDENTIFIED-PAYLOAD-TYPE"]; ok {
		if p, ok := parsePayloadType(pt); ok {
			resp.PayloadType = p
			resp.HasPayload = true
		}
	}
	return resp, nil
}

func metadataFromRaw(r *rawRecord) (Metadata, error) {
	scanner := bufio.NewScanner(bytes.NewReader(r.content))
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		if key == "fetchTimeMs" {
			v, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return Metadata{}, neoserr.NewWarcParse("invalid fetchTimeMs")
			}
			return Metadata{FetchTimeMs: v}, nil
		}
	}
	return Metadata{}, neoserr.NewWarcParse("failed to parse metadata")
}

// Next returns the next fully assembled Record, io.EOF at a clean end of
// stream, or a parse error. The first call skips the leading warcinfo
// record.
func (it *RecordIterator) Next() (*Record, error) {
	if it.numReads == 0 {
		if _, err := it.nextRaw(); err != nil {
			return nil, err
		}
	}
	it.numReads++

	var req *Request
	var resp *Response
	var meta *Metadata

	for {
		raw, err := it.nextRaw()
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, io.EOF
		}

		switch raw.header["WARC-TYPE"] {
		case "request":
			if req != nil {
				return nil, neoserr.NewWarcParse("already have a request but got another")
			}
			r, err := requestFromRaw(raw)
			if err != nil {
				return nil, err
			}
			req = &r
		case "response", "revisit":
			if ct, ok := raw.header["CONTENT-TYPE"]; ok && !strings.HasPrefix(ct, "application/http") {
				continue
			}
			if resp != nil {
				return nil, neoserr.NewWarcParse("already have a response but got another")
			}
			r, err := responseFromRaw(raw)
			if err != nil {
				return nil, err
			}
			resp = &r
		case "metadata":
			if ct, ok := raw.header["CONTENT-TYPE"]; ok && !strings.HasPrefix(ct, "application/warc-fields") {
				continue
			}
			if meta != nil {
				return nil, neoserr.NewWarcParse("already have metadata but got another")
			}
			m, err := metadataFromRaw(raw)
			if err != nil {
				return nil, err
			}
			meta = &m
		}

		if req != nil && resp != nil && meta != nil {
			break
		}
	}

	return &Record{Request: *req, Response: *resp, Metadata: *meta}, nil
}
