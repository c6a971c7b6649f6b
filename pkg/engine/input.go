package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"likegrab/pkg/models"
)

// ReadInputs decodes raw posts from every path. "-" reads standard input.
func ReadInputs(paths []string) ([]models.RawPost, error) {
	var all []models.RawPost
	for _, p := range paths {
		posts, err := readInput(p)
		if err != nil {
			return nil, fmt.Errorf("read input %s: %w", p, err)
		}
		all = append(all, posts...)
	}
	return all, nil
}

func readInput(path string) ([]models.RawPost, error) {
	if path == "-" {
		return DecodeRawPosts(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeRawPosts(f)
}

// DecodeRawPosts accepts either a JSON array of posts or a stream of JSON
// objects (JSON lines).
func DecodeRawPosts(r io.Reader) ([]models.RawPost, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var posts []models.RawPost
		if err := dec.Decode(&posts); err != nil {
			return nil, fmt.Errorf("decode post array: %w", err)
		}
		return posts, nil
	}

	var posts []models.RawPost
	for n := 1; ; n++ {
		var p models.RawPost
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			return posts, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode post %d: %w", n, err)
		}
		posts = append(posts, p)
	}
}

// peekNonSpace skips a UTF-8 byte order mark and leading whitespace
func peekNonSpace(br *bufio.Reader) (byte, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xef, 0xbb, 0xbf}) {
		_, _ = br.Discard(3)
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
