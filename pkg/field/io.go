package field

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// Binary field file layout: 8-byte magic, uint32 width, uint32 height,
// then width*height little-endian float64 dx values followed by the dy
// values. Registration runs produced by the external collaborator are
// exchanged with the operator tooling through these files.

var fileMagic = [8]byte{'A', 'L', 'N', 'F', 'L', 'D', '0', '1'}

// Save writes the field to path in the binary field format.
func (f *Field) Save(path string) error {
	if err := f.Validate(); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create field file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if _, err := w.Write(fileMagic[:]); err != nil {
		return fmt.Errorf("failed to write field header: %w", err)
	}
	dims := [2]uint32{uint32(f.Width), uint32(f.Height)}
	if err := binary.Write(w, binary.LittleEndian, dims[:]); err != nil {
		return fmt.Errorf("failed to write field dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.DX); err != nil {
		return fmt.Errorf("failed to write field data: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, f.DY); err != nil {
		return fmt.Errorf("failed to write field data: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush field file: %w", err)
	}
	return nil
}

// Load reads a field previously written by Save.
func Load(path string) (*Field, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open field file: %w", err)
	}
	defer file.Close()
	return Read(bufio.NewReader(file))
}

// Read parses a binary field from r.
func Read(r io.Reader) (*Field, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("failed to read field header: %w", err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrInvalidField, magic[:])
	}

	var dims [2]uint32
	if err := binary.Read(r, binary.LittleEndian, dims[:]); err != nil {
		return nil, fmt.Errorf("failed to read field dimensions: %w", err)
	}
	width, height := int(dims[0]), int(dims[1])
	f, err := New(width, height)
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, f.DX); err != nil {
		return nil, fmt.Errorf("failed to read field data: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, f.DY); err != nil {
		return nil, fmt.Errorf("failed to read field data: %w", err)
	}
	return f, nil
}
