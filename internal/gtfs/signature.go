package gtfs

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/fbarbe00/Finding-Missing-Trains/internal/model"
)

// Signature digests the archive's central directory: the sorted list of
// (entry name, CRC-32, uncompressed size). Archives with equal signatures
// hold identical files. Every entry is opened so corrupt headers surface here.
func Signature(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", &model.ArchiveError{Path: path, Err: err}
	}
	defer func() { _ = zr.Close() }()

	type entry struct {
		name string
		crc  uint32
		size uint64
	}
	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", &model.ArchiveError{Path: path, Table: f.Name, Err: err}
		}
		_ = rc.Close()
		entries = append(entries, entry{f.Name, f.CRC32, f.UncompressedSize64})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	h := sha256.New()
	var buf []byte
	for _, e := range entries {
		buf = buf[:0]
		buf = binary.AppendUvarint(buf, uint64(len(e.name)))
		buf = append(buf, e.name...)
		buf = binary.BigEndian.AppendUint32(buf, e.crc)
		buf = binary.BigEndian.AppendUint64(buf, e.size)
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
