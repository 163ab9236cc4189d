// Package hashutil implements the partial-file hashing and change
// classification described in §4.A: a pure function of filesystem state and
// prior persisted RawLog state, never mutating anything itself.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/kulesh/catsyphon-sub001/internal/apperr"
)

const chunkSize = 8 * 1024

// ChangeClass is the outcome of classifying a file against its prior state.
type ChangeClass string

const (
	Unchanged ChangeClass = "UNCHANGED"
	Append    ChangeClass = "APPEND"
	Truncate  ChangeClass = "TRUNCATE"
	Rewrite   ChangeClass = "REWRITE"
)

// PriorState is the persisted RawLog state the classifier compares against.
type PriorState struct {
	LastOffset      int64
	LastSize        int64
	LastPartialHash string
}

// PartialHash computes the SHA-256 of bytes [0, offset) of path, read in
// chunks no larger than 8 KiB. offset must be within [0, current file size];
// violating that is a programming error reported as InvalidArgument.
func PartialHash(path string, offset int64) (string, error) {
	if offset < 0 {
		return "", apperr.New(apperr.InvalidArgument, "partial hash offset must be non-negative")
	}

	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "open file for partial hash", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "stat file for partial hash", err)
	}
	if offset > info.Size() {
		return "", apperr.New(apperr.InvalidArgument, "partial hash offset exceeds file size")
	}

	h := sha256.New()
	remaining := offset
	buf := make([]byte, chunkSize)
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := io.ReadFull(f, buf[:n])
		if err != nil && err != io.ErrUnexpectedEOF {
			return "", apperr.Wrap(apperr.Internal, "read file for partial hash", err)
		}
		h.Write(buf[:read])
		remaining -= int64(read)
		if read == 0 {
			break
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ContentHash computes the SHA-256 of the entire file, read in the same
// chunk size as PartialHash, for file-level dedup (§4.D stage 2).
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, "open file for content hash", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", apperr.Wrap(apperr.Internal, "read file for content hash", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// StatAndPartialHash returns the current file size and the partial hash of
// the whole file (offset == size), the pair RawLog needs after a
// successful ingest to seed the next change-classification pass.
func StatAndPartialHash(path string) (int64, string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.Internal, "stat file", err)
	}
	hash, err := PartialHash(path, info.Size())
	if err != nil {
		return 0, "", err
	}
	return info.Size(), hash, nil
}

// Classify implements the §4.A decision table. A missing file is TRUNCATE.
func Classify(path string, prior PriorState) (ChangeClass, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Truncate, nil
		}
		return "", apperr.Wrap(apperr.Internal, "stat file for classification", err)
	}

	currentSize := info.Size()
	if currentSize < prior.LastSize {
		return Truncate, nil
	}

	compareOffset := prior.LastOffset
	if compareOffset > currentSize {
		compareOffset = currentSize
	}
	hash, err := PartialHash(path, compareOffset)
	if err != nil {
		return "", err
	}

	if currentSize == prior.LastSize {
		if hash == prior.LastPartialHash {
			return Unchanged, nil
		}
		return Rewrite, nil
	}

	// currentSize > prior.LastSize
	if hash == prior.LastPartialHash {
		return Append, nil
	}
	return Rewrite, nil
}
