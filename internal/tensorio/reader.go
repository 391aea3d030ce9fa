package tensorio

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/squeezedet/internal/tensor"
)

// Reader reads tensors from a SafeTensors source.
type Reader struct {
	src        io.ReaderAt
	closer     io.Closer
	header     header
	dataOffset int64
	dataSize   int64
}

// Open opens a SafeTensors file. The caller must Close the reader.
func Open(path string) (*Reader, error) {
	//nolint:gosec // G304: input path is chosen by the caller.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	r, err := NewReader(f, st.Size())
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader parses and validates the header of a SafeTensors source of the
// given total size.
func NewReader(src io.ReaderAt, size int64) (*Reader, error) {
	var sizeBuf [8]byte
	if _, err := src.ReadAt(sizeBuf[:], 0); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	headerSize := binary.LittleEndian.Uint64(sizeBuf[:])
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}
	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: bounded by MaxHeaderSize.
	if dataOffset > size {
		return nil, fmt.Errorf("header size %d exceeds file size %d", headerSize, size)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := src.ReadAt(headerBytes, 8); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var h header
	if err := json.Unmarshal(headerBytes, &h); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	dataSize := size - dataOffset
	if err := validateHeader(&h, dataSize); err != nil {
		return nil, err
	}

	return &Reader{
		src:        src,
		header:     h,
		dataOffset: dataOffset,
		dataSize:   dataSize,
	}, nil
}

// Close releases the underlying file, if the reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}

// Metadata returns the header metadata.
func (r *Reader) Metadata() map[string]string {
	return r.header.Metadata
}

// Names returns the tensor names, sorted.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns the header entry of a tensor.
func (r *Reader) Info(name string) (TensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return TensorInfo{}, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return info, nil
}

// Load reads a tensor into a new RawTensor.
func (r *Reader) Load(name string) (*tensor.RawTensor, error) {
	info, err := r.Info(name)
	if err != nil {
		return nil, err
	}
	dt, err := fromDType(info.DType)
	if err != nil {
		return nil, err
	}

	raw, err := tensor.NewRaw(tensor.Shape(info.Shape), dt)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if _, err := r.src.ReadAt(raw.Data(), r.dataOffset+info.DataOffsets[0]); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}
	return raw, nil
}

// Verify recomputes the data section checksum and compares it with the one
// recorded in the metadata. It returns ErrNoChecksum when none is recorded.
func (r *Reader) Verify() error {
	want, ok := r.header.Metadata[MetaChecksum]
	if !ok {
		return ErrNoChecksum
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(r.src, r.dataOffset, r.dataSize)); err != nil {
		return fmt.Errorf("failed to read data section: %w", err)
	}
	if hex.EncodeToString(h.Sum(nil)) != want {
		return ErrChecksumMismatch
	}
	return nil
}
