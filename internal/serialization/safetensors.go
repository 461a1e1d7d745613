package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/ucp/internal/tensor"
	"github.com/pkg/errors"
)

// MaxHeaderSize bounds the JSON header a reader accepts.
const MaxHeaderSize = 100 * 1024 * 1024

const metadataKey = "__metadata__"

// TensorInfo describes a tensor in the SafeTensors header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) relative to the data section
}

// WriteFile writes tensors and metadata to path. Tensors are laid out in
// alphabetical order by name.
func WriteFile(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) (err error) {
	//nolint:gosec // G304: path is chosen by the caller, which is expected for checkpoint writing
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "failed to close %s", path)
		}
	}()
	return Write(f, tensors, metadata)
}

// Write encodes tensors and metadata in SafeTensors format.
func Write(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, name := range names {
		raw := tensors[name]
		dtype, err := dtypeToSafeTensors(raw.DType())
		if err != nil {
			return errors.WithMessagef(err, "tensor %s", name)
		}
		size := int64(raw.ByteSize())
		header[name] = TensorInfo{
			DType:       dtype,
			Shape:       append([]int{}, raw.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "failed to write header size")
	}
	if _, err := w.Write(headerJSON); err != nil {
		return errors.Wrap(err, "failed to write header")
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Data()); err != nil {
			return errors.Wrapf(err, "failed to write tensor %s", name)
		}
	}
	return nil
}

// File is a fully decoded SafeTensors file. Universal checkpoint state files
// are small enough per key that they are read into memory whole.
type File struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
	data     []byte
}

// ReadFile reads and validates a SafeTensors file.
func ReadFile(path string) (*File, error) {
	//nolint:gosec // G304: path is chosen by the caller, which is expected for checkpoint loading
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()

	file, err := Read(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "reading %s", path)
	}
	return file, nil
}

// Read decodes a SafeTensors stream.
func Read(r io.Reader) (*File, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, &ValidationError{Kind: ErrHeaderTooLarge, Details: fmt.Sprintf("%d bytes", headerSize)}
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read header")
	}

	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawMap); err != nil {
		return nil, errors.Wrap(err, "failed to parse header JSON")
	}

	file := &File{Tensors: make(map[string]TensorInfo, len(rawMap))}
	for key, value := range rawMap {
		if key == metadataKey {
			if err := json.Unmarshal(value, &file.Metadata); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal metadata")
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal tensor %s", key)
		}
		file.Tensors[key] = info
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read tensor data")
	}
	file.data = data

	if err := ValidateOffsets(file.Tensors, int64(len(data))); err != nil {
		return nil, err
	}
	return file, nil
}

// TensorNames returns the tensor names in sorted order.
func (f *File) TensorNames() []string {
	names := make([]string, 0, len(f.Tensors))
	for name := range f.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tensor materializes the named tensor. The returned tensor owns its memory.
func (f *File) Tensor(name string) (*tensor.RawTensor, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, errors.Wrapf(ErrTensorNotFound, "%q", name)
	}
	dtype, err := safeTensorsToDType(info.DType)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %s", name)
	}
	raw, err := tensor.FromBytes(f.data[info.DataOffsets[0]:info.DataOffsets[1]], tensor.Shape(info.Shape), dtype)
	if err != nil {
		return nil, errors.Wrapf(err, "tensor %s", name)
	}
	return raw, nil
}

// dtypeToSafeTensors converts tensor.DataType to SafeTensors dtype string.
func dtypeToSafeTensors(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return "F32", nil
	case tensor.Float64:
		return "F64", nil
	case tensor.Int32:
		return "I32", nil
	case tensor.Int64:
		return "I64", nil
	case tensor.Float16:
		return "F16", nil
	default:
		return "", errors.Wrapf(ErrUnsupportedDType, "%s", dt)
	}
}

// safeTensorsToDType converts a SafeTensors dtype string to tensor.DataType.
func safeTensorsToDType(s string) (tensor.DataType, error) {
	switch s {
	case "F32":
		return tensor.Float32, nil
	case "F64":
		return tensor.Float64, nil
	case "I32":
		return tensor.Int32, nil
	case "I64":
		return tensor.Int64, nil
	case "F16":
		return tensor.Float16, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedDType, "%s", s)
	}
}
