// Package preamble provides the bytes written to every connection before the
// filler stream starts.
package preamble

import (
	_ "embed"
	"fmt"
	"os"
)

// The built in preamble is an HTTP response header without a length, so HTTP
// clients settle in for a download that never ends.
//
//go:embed response-header.txt
var responseHeader []byte

// Default returns a copy of the built in preamble.
func Default() []byte {
	return append([]byte(nil), responseHeader...)
}

// Load reads the preamble from path, or returns Default when path is empty.
func Load(path string) ([]byte, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preamble: %w", err)
	}
	return b, nil
}
