// Package snapshot writes and reads compressed point-in-time copies of the
// instance registry and the income ledger.
//
// File layout: a zstd stream holding one JSON header line followed by a gob
// encoding of the full Snapshot.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/structure"
)

// Version is the current snapshot format version.
const Version = 1

// ErrVersion is returned when a snapshot was written by an unknown format version.
var ErrVersion = errors.New("snapshot: unsupported version")

// Header describes a snapshot without decoding its body.
type Header struct {
	Version   int       `json:"version"`
	Server    string    `json:"server"`
	Day       int64     `json:"day"`
	Instances int       `json:"instances"`
	Accruals  int       `json:"accruals"`
	WrittenAt time.Time `json:"written_at"`
}

// Snapshot is the persisted engine state.
type Snapshot struct {
	Header    Header
	Instances []structure.Instance
	Accruals  []income.Accrual
}

// Write stores snap at path. The file is written next to path and renamed
// into place, so a reader never observes a partial snapshot.
//
// Postcondition: on success path holds snap with Header.Version and counts filled in.
func Write(path string, snap Snapshot) (err error) {
	snap.Header.Version = Version
	snap.Header.Instances = len(snap.Instances)
	snap.Header.Accruals = len(snap.Accruals)
	if snap.Header.WrittenAt.IsZero() {
		snap.Header.WrittenAt = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing zstd stream: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("installing snapshot: %w", err)
	}
	return nil
}

func open(path string) (*os.File, *zstd.Decoder, *bufio.Reader, Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, h, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("zstd reader: %w", err)
	}
	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("reading header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("decoding header: %w", err)
	}
	if h.Version != Version {
		dec.Close()
		f.Close()
		return nil, nil, nil, h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	return f, dec, br, h, nil
}

// ReadHeader returns the header of the snapshot at path without decoding the body.
func ReadHeader(path string) (Header, error) {
	f, dec, _, h, err := open(path)
	if err != nil {
		return h, err
	}
	dec.Close()
	f.Close()
	return h, nil
}

// Read loads the snapshot at path. A missing file yields an error matching os.ErrNotExist.
func Read(path string) (Snapshot, error) {
	var snap Snapshot
	f, dec, br, _, err := open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	defer dec.Close()
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
