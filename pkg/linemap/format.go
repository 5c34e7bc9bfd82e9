package linemap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ErrSyntax is returned for malformed line map files.
var ErrSyntax = errors.New("line map syntax error")

const (
	fieldSep    = "\t"
	filePerm    = 0o600
	tmpSuffix   = ".tmp"
	headerParts = 3
	recordParts = 2
)

// Write serializes the table. A unit record starts at column 0 as
// "<unit>\t<maxSourceLine>\t<maxDestLine>"; each following tab-indented
// "\t<originalLine>\t<correctedLine>" line belongs to it. Units and lines
// are written in ascending order.
func Write(w io.Writer, t Table) error {
	bw := bufio.NewWriter(w)

	for _, unit := range t.Units() {
		e := t[unit]

		_, err := fmt.Fprintf(bw, "%s\t%d\t%d\n", unit, e.MaxSourceLine, e.MaxDestLine)
		if err != nil {
			return fmt.Errorf("write line map header %s: %w", unit, err)
		}

		for _, src := range slices.Sorted(maps.Keys(e.Lines)) {
			_, err = fmt.Fprintf(bw, "\t%d\t%d\n", src, e.Lines[src])
			if err != nil {
				return fmt.Errorf("write line map record %s: %w", unit, err)
			}
		}
	}

	err := bw.Flush()
	if err != nil {
		return fmt.Errorf("flush line map: %w", err)
	}

	return nil
}

// Read parses a line map. Blank lines are ignored. A repeated original line
// within one unit keeps the last value seen.
func Read(r io.Reader) (Table, error) {
	table := make(Table)
	scanner := bufio.NewScanner(r)

	var (
		current *Entry
		lineNo  int
	)

	for scanner.Scan() {
		lineNo++

		text := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}

		if strings.HasPrefix(text, fieldSep) {
			if current == nil {
				return nil, fmt.Errorf("%w: line %d: record before any unit header", ErrSyntax, lineNo)
			}

			src, dst, err := parseRecord(text[len(fieldSep):])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrSyntax, lineNo, err)
			}

			current.Lines[src] = dst

			continue
		}

		unit, entry, err := parseHeader(text)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrSyntax, lineNo, err)
		}

		if _, dup := table[unit]; dup {
			return nil, fmt.Errorf("%w: line %d: duplicate unit %s", ErrSyntax, lineNo, unit)
		}

		table[unit] = entry
		current = entry
	}

	err := scanner.Err()
	if err != nil {
		return nil, fmt.Errorf("read line map: %w", err)
	}

	return table, nil
}

func parseHeader(text string) (string, *Entry, error) {
	parts := strings.Split(text, fieldSep)
	if len(parts) != headerParts || parts[0] == "" {
		return "", nil, fmt.Errorf("header %q: want <unit>\\t<maxSource>\\t<maxDest>", text)
	}

	maxSrc, err := parseLine(parts[1])
	if err != nil {
		return "", nil, err
	}

	maxDst, err := parseLine(parts[2])
	if err != nil {
		return "", nil, err
	}

	return parts[0], &Entry{Lines: make(map[int]int), MaxSourceLine: maxSrc, MaxDestLine: maxDst}, nil
}

func parseRecord(text string) (int, int, error) {
	parts := strings.Split(text, fieldSep)
	if len(parts) != recordParts {
		return 0, 0, fmt.Errorf("record %q: want \\t<original>\\t<corrected>", text)
	}

	src, err := parseLine(parts[0])
	if err != nil {
		return 0, 0, err
	}

	dst, err := parseLine(parts[1])
	if err != nil {
		return 0, 0, err
	}

	return src, dst, nil
}

func parseLine(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("line number %q: %w", s, err)
	}

	if v < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLine, v)
	}

	return v, nil
}

// WriteFile writes the table to path through a temp file and rename.
func WriteFile(path string, t Table) error {
	tmpPath := path + tmpSuffix

	fd, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create line map: %w", err)
	}

	writeErr := Write(fd, t)
	if writeErr != nil {
		return errors.Join(writeErr, fd.Close(), os.Remove(tmpPath))
	}

	closeErr := fd.Close()
	if closeErr != nil {
		return errors.Join(fmt.Errorf("close line map: %w", closeErr), os.Remove(tmpPath))
	}

	renameErr := os.Rename(tmpPath, path)
	if renameErr != nil {
		return fmt.Errorf("rename line map: %w", renameErr)
	}

	return nil
}

// ReadFile parses the line map stored at path.
func ReadFile(path string) (Table, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open line map: %w", err)
	}
	defer fd.Close()

	return Read(fd)
}

// Remove deletes a line map file and its temp sibling. Missing files are
// not an error; stale files from an interrupted run are never trusted.
func Remove(path string) error {
	var errs []error

	for _, p := range []string{path, path + tmpSuffix} {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove line map %s: %w", p, err))
		}
	}

	return errors.Join(errs...)
}
