package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/kjannette/trahn-marketdata/internal/fsutil"
	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// isZstd peeks at the first frame bytes and rewinds f.
func isZstd(f *os.File) (bool, error) {
	head := make([]byte, len(zstdMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return n == len(zstdMagic) && bytes.Equal(head, zstdMagic), nil
}

// withDecoded hands fn a reader over the uncompressed DBN stream at path.
// A zstd container is first expanded into a temp file under tmpDir, which is
// removed on every return path.
func withDecoded(path, tmpDir string, fn func(io.Reader) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	compressed, err := isZstd(f)
	if err != nil {
		return fmt.Errorf("sniff %s: %w", path, err)
	}
	if !compressed {
		return fn(bufio.NewReader(f))
	}

	tmp, err := fsutil.CreateTemp(tmpDir, "mdingest-*.dbn")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if cerr := tmp.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return &DecodeError{Err: fmt.Errorf("zstd: %w", err)}
	}
	defer dec.Close()

	if _, err := io.Copy(tmp, dec); err != nil {
		return &DecodeError{Err: fmt.Errorf("zstd: %w", err)}
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return fn(bufio.NewReader(tmp))
}
