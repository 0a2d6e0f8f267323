package storage

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// DefaultMaxUploadBytes is about five minutes of browser-recorded opus.
const DefaultMaxUploadBytes = 2 * 1024 * 1024

var audioContainer = regexp.MustCompile(`(?i)^audio/(\w+)`)

// ExtensionFor derives a file extension from an upload's Content-Type.
// "audio/webm;codecs=opus" yields "webm"; anything else yields DefaultExtension.
func ExtensionFor(contentType string) (ext string, ok bool) {
	m := audioContainer.FindStringSubmatch(strings.TrimSpace(contentType))
	if m == nil {
		return DefaultExtension, false
	}
	return strings.ToLower(m[1]), true
}

// WriteLimited copies at most max bytes from src to dst. truncated reports
// whether src had more data than was copied; the remainder is not consumed.
func WriteLimited(dst io.Writer, src io.Reader, max int64) (n int64, truncated bool, err error) {
	bw := bufio.NewWriter(dst)
	n, err = io.Copy(bw, io.LimitReader(src, max))
	if err != nil {
		return n, false, err
	}
	if err := bw.Flush(); err != nil {
		return n, false, err
	}
	if n == max {
		var probe [1]byte
		if m, _ := src.Read(probe[:]); m > 0 {
			truncated = true
		}
	}
	return n, truncated, nil
}

// HashFile returns the hex MD5 digest of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
