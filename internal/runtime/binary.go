package runtime

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/digital-nomad-cheng/tvm/internal/logger"
	"github.com/digital-nomad-cheng/tvm/internal/metrics"
)

// Binary form constants.
const (
	binaryMagic   = "TVMN"
	binaryVersion = 1
)

// SaveToBinary serializes the module's compile-time state: the symbol,
// the graph description and the ordered constant names, each as a
// little-endian length-prefixed section behind a magic/version header.
// Bound constants and host buffers are runtime state and are not part
// of the form; a loaded module needs a fresh Init.
func (m *Module) SaveToBinary() ([]byte, error) {
	var buf bytes.Buffer

	if _, err := buf.WriteString(binaryMagic); err != nil {
		return nil, fmt.Errorf("save %s: write magic: %w", m.symbol, err)
	}
	if err := binary.Write(&buf, binary.LittleEndian, uint32(binaryVersion)); err != nil {
		return nil, fmt.Errorf("save %s: write version: %w", m.symbol, err)
	}

	if err := writeSection(&buf, []byte(m.symbol)); err != nil {
		return nil, fmt.Errorf("save %s: write symbol: %w", m.symbol, err)
	}
	if err := writeSection(&buf, []byte(m.graphJSON)); err != nil {
		return nil, fmt.Errorf("save %s: write graph: %w", m.symbol, err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(m.constNames))); err != nil {
		return nil, fmt.Errorf("save %s: write const count: %w", m.symbol, err)
	}
	for _, name := range m.constNames {
		if err := writeSection(&buf, []byte(name)); err != nil {
			return nil, fmt.Errorf("save %s: write const name %q: %w", m.symbol, name, err)
		}
	}

	return buf.Bytes(), nil
}

// LoadModuleFromBinary reconstructs a module from a previously
// serialized binary form. Beyond the header check there is no extra
// validation: the loaded module enforces exactly what CreateModule,
// Init and Run already enforce.
func LoadModuleFromBinary(data []byte, opts ...Option) (*Module, error) {
	r := bytes.NewReader(data)

	magic := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("load module: read magic: %w", err)
	}
	if string(magic) != binaryMagic {
		return nil, fmt.Errorf("load module: bad magic %q, want %q", magic, binaryMagic)
	}

	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("load module: read version: %w", err)
	}
	if version != binaryVersion {
		return nil, fmt.Errorf("load module: unsupported format version %d, want %d", version, binaryVersion)
	}

	symbol, err := readSection(r)
	if err != nil {
		return nil, fmt.Errorf("load module: read symbol: %w", err)
	}
	graphJSON, err := readSection(r)
	if err != nil {
		return nil, fmt.Errorf("load module %s: read graph: %w", symbol, err)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("load module %s: read const count: %w", symbol, err)
	}
	constNames := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readSection(r)
		if err != nil {
			return nil, fmt.Errorf("load module %s: read const name %d: %w", symbol, i, err)
		}
		constNames = append(constNames, name)
	}

	m, err := CreateModule(symbol, graphJSON, constNames, opts...)
	if err != nil {
		return nil, fmt.Errorf("load module: %w", err)
	}

	metrics.ModulesLoaded.Inc()
	logger.Log.Debug("loaded offload module from binary form",
		"symbol", m.symbol,
		"bytes", len(data))
	return m, nil
}

// writeSection emits one length-prefixed byte section.
func writeSection(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readSection consumes one length-prefixed byte section. The length is
// bounded by the bytes actually remaining, so a corrupted prefix fails
// instead of allocating.
func readSection(r *bytes.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > uint64(r.Len()) {
		return "", fmt.Errorf("section of %d bytes exceeds %d remaining", n, r.Len())
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}
