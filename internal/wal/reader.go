package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ReadAll reads and decodes every record from every *.wal segment file in
// dir, across however many process restarts have accumulated segments, and
// returns them sorted by CommitID. Segment file names (google/uuid) carry
// no ordering information; only the monotonic commit id does.
func ReadAll(dir string) ([]Record, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: listing %s: %w", dir, err)
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".wal" {
			continue
		}
		recs, err := readSegment(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("wal: reading segment %s: %w", e.Name(), err)
		}
		records = append(records, recs...)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].CommitID < records[j].CommitID })
	return records, nil
}

func readSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []Record
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("reading record length: %w", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("reading record body: %w", err)
		}
		rec, err := decodeRecord(buf)
		if err != nil {
			return nil, fmt.Errorf("decoding record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// NextCommitID returns one past the highest commit id seen in records, or 1
// if records is empty.
func NextCommitID(records []Record) uint64 {
	var max uint64
	for _, r := range records {
		if r.CommitID > max {
			max = r.CommitID
		}
	}
	return max + 1
}
