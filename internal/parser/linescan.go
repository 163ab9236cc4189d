package parser

import (
	"bufio"
	"io"
	"os"
)

// LineScanner streams a file line-by-line and tracks the byte offset of
// each complete line, matching the offset-tracking discipline in
// mrf-agent-racer's ParseSessionJSONL: a line without a trailing newline is
// left for the next read rather than parsed, so offset never advances past
// a line the writer hasn't finished flushing.
type LineScanner struct {
	f      *os.File
	reader *bufio.Reader
	offset int64
	line   int
}

// OpenLineScanner opens path and seeks to startOffset.
func OpenLineScanner(path string, startOffset int64) (*LineScanner, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if startOffset > 0 {
		if _, err := f.Seek(startOffset, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &LineScanner{f: f, reader: bufio.NewReaderSize(f, 64*1024), offset: startOffset}, nil
}

func (s *LineScanner) Close() error { return s.f.Close() }

// Offset returns the byte offset just past the last complete line returned.
func (s *LineScanner) Offset() int64 { return s.offset }

// LineNumber returns how many complete lines have been returned since the
// start offset (the count starts at 0 there, not at the file's beginning).
func (s *LineScanner) LineNumber() int { return s.line }

// Next returns the next complete line (without trailing newline) and true,
// or nil and false at EOF / on a trailing partial line.
func (s *LineScanner) Next() ([]byte, bool, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, false, err
	}
	if len(line) == 0 {
		return nil, false, nil
	}
	if line[len(line)-1] != '\n' {
		// Incomplete trailing line — do not advance offset or line number.
		return nil, false, nil
	}
	s.offset += int64(len(line))
	s.line++
	return line[:len(line)-1], true, nil
}
