package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	tagNextFileID  = 1
	tagNextSeq     = 2
	tagAddTable    = 3
	tagRemoveTable = 4
)

var (
	// ErrCorruptEdit signals that an edit payload could not be decoded
	ErrCorruptEdit = errors.New("corrupt version edit")
)

// TableRef identifies a table within a level
type TableRef struct {
	Level  int
	FileID uint64
}

// VersionEdit describes a single atomic change to the version state
type VersionEdit struct {
	// Counter updates, applied when non-zero
	NextFileID uint64
	NextSeq    uint64

	AddedTables   []*TableMeta
	RemovedTables []TableRef
}

// AddTable records a table addition in the edit
func (e *VersionEdit) AddTable(meta *TableMeta) {
	e.AddedTables = append(e.AddedTables, meta)
}

// RemoveTable records a table removal in the edit
func (e *VersionEdit) RemoveTable(level int, fileID uint64) {
	e.RemovedTables = append(e.RemovedTables, TableRef{Level: level, FileID: fileID})
}

// Empty returns true if the edit changes nothing
func (e *VersionEdit) Empty() bool {
	return e.NextFileID == 0 && e.NextSeq == 0 &&
		len(e.AddedTables) == 0 && len(e.RemovedTables) == 0
}

// Encode serializes the edit as a sequence of tagged fields
func (e *VersionEdit) Encode() []byte {
	var buf []byte

	if e.NextFileID != 0 {
		buf = append(buf, tagNextFileID)
		buf = binary.LittleEndian.AppendUint64(buf, e.NextFileID)
	}
	if e.NextSeq != 0 {
		buf = append(buf, tagNextSeq)
		buf = binary.LittleEndian.AppendUint64(buf, e.NextSeq)
	}

	for _, t := range e.AddedTables {
		buf = append(buf, tagAddTable)
		buf = append(buf, byte(t.Level))
		buf = binary.LittleEndian.AppendUint64(buf, t.FileID)
		buf = binary.LittleEndian.AppendUint64(buf, t.Size)
		buf = binary.LittleEndian.AppendUint64(buf, t.EntryCount)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.MinKey)))
		buf = append(buf, t.MinKey...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(t.MaxKey)))
		buf = append(buf, t.MaxKey...)
	}

	for _, r := range e.RemovedTables {
		buf = append(buf, tagRemoveTable)
		buf = append(buf, byte(r.Level))
		buf = binary.LittleEndian.AppendUint64(buf, r.FileID)
	}

	return buf
}

// DecodeEdit parses a tagged edit payload
func DecodeEdit(data []byte) (*VersionEdit, error) {
	edit := &VersionEdit{}
	pos := 0

	for pos < len(data) {
		tag := data[pos]
		pos++

		switch tag {
		case tagNextFileID:
			v, n, err := readUint64(data, pos)
			if err != nil {
				return nil, err
			}
			edit.NextFileID = v
			pos = n

		case tagNextSeq:
			v, n, err := readUint64(data, pos)
			if err != nil {
				return nil, err
			}
			edit.NextSeq = v
			pos = n

		case tagAddTable:
			meta, n, err := readTableMeta(data, pos)
			if err != nil {
				return nil, err
			}
			edit.AddedTables = append(edit.AddedTables, meta)
			pos = n

		case tagRemoveTable:
			if pos+9 > len(data) {
				return nil, fmt.Errorf("%w: truncated remove-table field", ErrCorruptEdit)
			}
			level := int(data[pos])
			fileID := binary.LittleEndian.Uint64(data[pos+1:])
			edit.RemovedTables = append(edit.RemovedTables, TableRef{Level: level, FileID: fileID})
			pos += 9

		default:
			return nil, fmt.Errorf("%w: unknown tag %d", ErrCorruptEdit, tag)
		}
	}

	return edit, nil
}

func readUint64(data []byte, pos int) (uint64, int, error) {
	if pos+8 > len(data) {
		return 0, 0, fmt.Errorf("%w: truncated integer field", ErrCorruptEdit)
	}
	return binary.LittleEndian.Uint64(data[pos:]), pos + 8, nil
}

func readTableMeta(data []byte, pos int) (*TableMeta, int, error) {
	if pos+25 > len(data) {
		return nil, 0, fmt.Errorf("%w: truncated add-table field", ErrCorruptEdit)
	}
	meta := &TableMeta{
		Level:      int(data[pos]),
		FileID:     binary.LittleEndian.Uint64(data[pos+1:]),
		Size:       binary.LittleEndian.Uint64(data[pos+9:]),
		EntryCount: binary.LittleEndian.Uint64(data[pos+17:]),
	}
	pos += 25

	minKey, pos, err := readKey(data, pos)
	if err != nil {
		return nil, 0, err
	}
	maxKey, pos, err := readKey(data, pos)
	if err != nil {
		return nil, 0, err
	}
	meta.MinKey = minKey
	meta.MaxKey = maxKey
	return meta, pos, nil
}

func readKey(data []byte, pos int) ([]byte, int, error) {
	if pos+4 > len(data) {
		return nil, 0, fmt.Errorf("%w: truncated key length", ErrCorruptEdit)
	}
	keyLen := int(binary.LittleEndian.Uint32(data[pos:]))
	pos += 4
	if pos+keyLen > len(data) {
		return nil, 0, fmt.Errorf("%w: truncated key bytes", ErrCorruptEdit)
	}
	key := make([]byte, keyLen)
	copy(key, data[pos:pos+keyLen])
	return key, pos + keyLen, nil
}
