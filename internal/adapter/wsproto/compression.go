package wsproto

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

func CompressPayload(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		return gzipCompress(data)
	default:
		return nil, fmt.Errorf("wsproto: unsupported compression method %d", method)
	}
}

func DecompressPayload(data []byte, method Compression) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		return gzipDecompress(data)
	default:
		return nil, fmt.Errorf("wsproto: unsupported compression method %d", method)
	}
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("wsproto: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("wsproto: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("wsproto: gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("wsproto: gzip read: %w", err)
	}
	return out, nil
}
