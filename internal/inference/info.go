package inference

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// TensorInfo describes one model input or output
type TensorInfo struct {
	Name       string
	Dimensions []int64
	DataType   string
}

// ModelInfo is what ONNX Runtime reports about a model file
type ModelInfo struct {
	Inputs      []TensorInfo
	Outputs     []TensorInfo
	Producer    string
	Domain      string
	Description string
	Version     int64
}

// Describe reads tensor signatures and metadata from a model file
func Describe(modelPath string) (*ModelInfo, error) {
	if !Initialized() {
		return nil, fmt.Errorf("ONNX Runtime not initialized, call Initialize() first")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get model info: %w", err)
	}

	info := &ModelInfo{
		Inputs:  convertInfo(inputs),
		Outputs: convertInfo(outputs),
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		// Metadata is optional in ONNX files
		return info, nil
	}
	defer metadata.Destroy()

	if producer, err := metadata.GetProducerName(); err == nil {
		info.Producer = producer
	}
	if domain, err := metadata.GetDomain(); err == nil {
		info.Domain = domain
	}
	if desc, err := metadata.GetDescription(); err == nil {
		info.Description = desc
	}
	if version, err := metadata.GetVersion(); err == nil {
		info.Version = version
	}

	return info, nil
}

// Input looks up an input by name
func (m *ModelInfo) Input(name string) (TensorInfo, bool) {
	return find(m.Inputs, name)
}

// Output looks up an output by name
func (m *ModelInfo) Output(name string) (TensorInfo, bool) {
	return find(m.Outputs, name)
}

func find(infos []TensorInfo, name string) (TensorInfo, bool) {
	for _, ti := range infos {
		if ti.Name == name {
			return ti, true
		}
	}
	return TensorInfo{}, false
}

func convertInfo(in []ort.InputOutputInfo) []TensorInfo {
	out := make([]TensorInfo, 0, len(in))
	for _, info := range in {
		out = append(out, TensorInfo{
			Name:       info.Name,
			Dimensions: []int64(info.Dimensions),
			DataType:   info.DataType.String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
