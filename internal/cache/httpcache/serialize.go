package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// Serialize dumps status, headers and body of resp as raw HTTP/1.x bytes.
// resp.Body is replaced with an unread copy, so the caller can still consume it.
func Serialize(resp *http.Response) ([]byte, error) {
	body, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	snapshot := *resp
	snapshot.Body = io.NopCloser(bytes.NewReader(body))
	snapshot.ContentLength = int64(len(body))
	snapshot.TransferEncoding = nil
	snapshot.ProtoMajor, snapshot.ProtoMinor = 1, 1

	b, err := httputil.DumpResponse(&snapshot, true)
	if err != nil {
		return nil, err
	}

	return append([]byte(PREFIX), b...), nil
}

// readBody drains resp.Body and puts back a fresh reader over the same bytes
func readBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

func Deserialize(b []byte) (*http.Response, error) {
	if len(b) < len(PREFIX) || string(b[:len(PREFIX)]) != PREFIX {
		return nil, fmt.Errorf("invalid prefix: expected '%s'", PREFIX)
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
