package httpapi

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// request is the parsed form of the single inbound request a connection
// carries.
type request struct {
	method string
	path   string
	header http.Header
	body   []byte
}

// parseRequest parses raw request bytes. The body is read to completion here
// so handlers work on a plain slice.
func parseRequest(raw []byte) (*request, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse request: %w", err)
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	_ = req.Body.Close()
	return &request{
		method: req.Method,
		path:   req.URL.Path,
		header: req.Header,
		body:   body,
	}, nil
}
