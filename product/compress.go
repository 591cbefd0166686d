package product

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/jacobfgrant/anejo/errors"
)

// Large nested fields are persisted as zlib-compressed, base64-encoded JSON.
// Compression happens only at this boundary; everything above it works with
// typed values.

// Compress serializes v and compresses it into a printable string
func Compress(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "Product", "Compress", "marshal value")
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return "", errors.Wrap(err, "Product", "Compress", "compress value")
	}
	if err := zw.Close(); err != nil {
		return "", errors.Wrap(err, "Product", "Compress", "flush compressor")
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decompress reverses Compress into v
func Decompress(s string, v any) error {
	if s == "" {
		return errors.ErrKeyNotFound
	}

	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return errors.WrapInvalid(err, "Product", "Decompress", "decode value")
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return errors.WrapInvalid(err, "Product", "Decompress", "open compressed value")
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return errors.WrapInvalid(err, "Product", "Decompress", "decompress value")
	}

	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapInvalid(err, "Product", "Decompress", "unmarshal value")
	}
	return nil
}
