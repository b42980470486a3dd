package checkpoints

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/tsawler/go-lora/tensor"
)

// tensorInfo describes one tensor in the safetensors header
type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

func dtypeName(dt tensor.DType) string {
	switch dt {
	case tensor.Float16:
		return "F16"
	case tensor.BFloat16:
		return "BF16"
	default:
		return "F32"
	}
}

func dtypeFromName(name string) (tensor.DType, error) {
	switch name {
	case "F32":
		return tensor.Float32, nil
	case "F16":
		return tensor.Float16, nil
	case "BF16":
		return tensor.BFloat16, nil
	default:
		return 0, fmt.Errorf("unsupported safetensors dtype %q", name)
	}
}

func dtypeWidth(dt tensor.DType) int {
	return dt.Size()
}

// saveSafetensors writes the checkpoint as a safetensors file: an 8-byte
// little-endian header length, a JSON header describing each tensor, then
// the raw little-endian tensor data. Adapter hyperparameters and training
// state travel in the __metadata__ block as strings, per the format.
func (cs *CheckpointSaver) saveSafetensors(checkpoint *AdapterCheckpoint, path string) error {
	names := make([]string, 0, len(checkpoint.Weights))
	byName := make(map[string]WeightTensor, len(checkpoint.Weights))
	for _, w := range checkpoint.Weights {
		names = append(names, w.Name)
		byName[w.Name] = w
	}
	sort.Strings(names)

	header := make(map[string]any, len(names)+1)
	header["__metadata__"] = map[string]string{
		"format":       "pt",
		"framework":    checkpoint.Metadata.Framework,
		"version":      checkpoint.Metadata.Version,
		"run_id":       checkpoint.Metadata.RunID,
		"adapter_name": checkpoint.AdapterName,
		"adapter_id":   checkpoint.AdapterID,
		"rank":         strconv.Itoa(checkpoint.Rank),
		"alpha":        strconv.FormatFloat(checkpoint.Alpha, 'g', -1, 64),
		"dropout":      strconv.FormatFloat(checkpoint.Dropout, 'g', -1, 64),
		"epoch":        strconv.FormatInt(checkpoint.TrainingState.Epoch, 10),
		"epoch_step":   strconv.FormatInt(checkpoint.TrainingState.EpochStep, 10),
		"global_step":  strconv.FormatInt(checkpoint.TrainingState.GlobalStep, 10),
	}

	offset := 0
	var data []byte
	for _, name := range names {
		w := byName[name]
		dt, err := dtypeFromName(w.DType)
		if err != nil {
			return fmt.Errorf("failed to save tensor %q: %v", name, err)
		}

		width := dtypeWidth(dt)
		encoded := make([]byte, len(w.Data)*width)
		for i, v := range w.Data {
			switch dt {
			case tensor.Float16:
				binary.LittleEndian.PutUint16(encoded[i*2:], tensor.Float32ToFloat16(v))
			case tensor.BFloat16:
				binary.LittleEndian.PutUint16(encoded[i*2:], tensor.Float32ToBFloat16(v))
			default:
				binary.LittleEndian.PutUint32(encoded[i*4:], math.Float32bits(v))
			}
		}

		header[name] = tensorInfo{
			DType:   w.DType,
			Shape:   w.Shape,
			Offsets: [2]int{offset, offset + len(encoded)},
		}
		data = append(data, encoded...)
		offset += len(encoded)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode safetensors header: %v", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	if err := binary.Write(file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %v", err)
	}
	if _, err := file.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %v", err)
	}
	return nil
}

// loadSafetensors reads a safetensors checkpoint back into memory.
func (cs *CheckpointSaver) loadSafetensors(path string) (*AdapterCheckpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("file too short for a safetensors header")
	}

	headerSize := binary.LittleEndian.Uint64(raw[:8])
	if uint64(len(raw)-8) < headerSize {
		return nil, fmt.Errorf("header size %d exceeds file size", headerSize)
	}
	headerJSON := raw[8 : 8+headerSize]
	data := raw[8+headerSize:]

	var header map[string]json.RawMessage
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("failed to parse safetensors header: %v", err)
	}

	checkpoint := &AdapterCheckpoint{}
	if meta, ok := header["__metadata__"]; ok {
		var fields map[string]string
		if err := json.Unmarshal(meta, &fields); err != nil {
			return nil, fmt.Errorf("failed to parse safetensors metadata: %v", err)
		}
		checkpoint.Metadata.Framework = fields["framework"]
		checkpoint.Metadata.Version = fields["version"]
		checkpoint.Metadata.RunID = fields["run_id"]
		checkpoint.AdapterName = fields["adapter_name"]
		checkpoint.AdapterID = fields["adapter_id"]
		checkpoint.Rank, _ = strconv.Atoi(fields["rank"])
		checkpoint.Alpha, _ = strconv.ParseFloat(fields["alpha"], 64)
		checkpoint.Dropout, _ = strconv.ParseFloat(fields["dropout"], 64)
		checkpoint.TrainingState.Epoch, _ = strconv.ParseInt(fields["epoch"], 10, 64)
		checkpoint.TrainingState.EpochStep, _ = strconv.ParseInt(fields["epoch_step"], 10, 64)
		checkpoint.TrainingState.GlobalStep, _ = strconv.ParseInt(fields["global_step"], 10, 64)
		delete(header, "__metadata__")
	}

	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var info tensorInfo
		if err := json.Unmarshal(header[name], &info); err != nil {
			return nil, fmt.Errorf("failed to parse tensor info for %q: %v", name, err)
		}
		dt, err := dtypeFromName(info.DType)
		if err != nil {
			return nil, fmt.Errorf("failed to load tensor %q: %v", name, err)
		}

		start, end := info.Offsets[0], info.Offsets[1]
		if start < 0 || end > len(data) || start > end {
			return nil, fmt.Errorf("tensor %q has offsets [%d, %d] outside data of length %d", name, start, end, len(data))
		}

		width := dtypeWidth(dt)
		numElems := (end - start) / width
		values := make([]float32, numElems)
		for i := range values {
			offset := start + i*width
			switch dt {
			case tensor.Float16:
				values[i] = tensor.Float16ToFloat32(binary.LittleEndian.Uint16(data[offset:]))
			case tensor.BFloat16:
				values[i] = tensor.BFloat16ToFloat32(binary.LittleEndian.Uint16(data[offset:]))
			default:
				values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
			}
		}

		checkpoint.Weights = append(checkpoint.Weights, WeightTensor{
			Name:  name,
			Shape: info.Shape,
			Data:  values,
			DType: info.DType,
		})
	}
	return checkpoint, nil
}
