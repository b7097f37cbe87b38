package predict

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/betbot/adaptrade/internal/features"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig ONNX 模型配置
type ONNXConfig struct {
	ModelPath      string `yaml:"model_path" json:"model_path"`
	LibraryPath    string `yaml:"library_path" json:"library_path"` // 为空时按平台取默认共享库名
	SequenceLength int    `yaml:"sequence_length" json:"sequence_length"`
	InputName      string `yaml:"input_name" json:"input_name"`   // 默认 "input"
	OutputName     string `yaml:"output_name" json:"output_name"` // 默认 "output"
	OutputWidth    int    `yaml:"output_width" json:"output_width"` // 1: 仅收益率；2: 收益率+置信度（默认）
}

// normalize 填充默认值并校验
func (c *ONNXConfig) normalize() error {
	if c.ModelPath == "" {
		return fmt.Errorf("onnx model path is required")
	}
	if c.SequenceLength <= 0 {
		return fmt.Errorf("sequence length must be > 0")
	}
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.OutputWidth == 0 {
		c.OutputWidth = 2
	}
	if c.OutputWidth != 1 && c.OutputWidth != 2 {
		return fmt.Errorf("output width must be 1 or 2, got %d", c.OutputWidth)
	}
	return nil
}

var ortInitOnce sync.Once
var ortInitErr error

func initializeORT(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath == "" {
			libPath = "/usr/lib/libonnxruntime.so"
			if runtime.GOOS == "windows" {
				libPath = "onnxruntime.dll"
			} else if runtime.GOOS == "darwin" {
				libPath = "libonnxruntime.dylib"
			}
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ONNXModel 以 [1, seq, n_features] 张量输入的 ONNX 模型。
// 输出为 [1, OutputWidth]：第一列收益率，第二列（若有）置信度；宽度为 1 时置信度取默认值。
type ONNXModel struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	seqLen  int
}

func NewONNXModel(cfg ONNXConfig) (*ONNXModel, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := initializeORT(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize onnxruntime: %v", err)
	}

	nFeatures := len(features.CanonicalColumns)
	inputShape := ort.NewShape(1, int64(cfg.SequenceLength), int64(nFeatures))
	inputTensor, err := ort.NewTensor(inputShape, make([]float32, cfg.SequenceLength*nFeatures))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %v", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.OutputWidth)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %v", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create session: %v", err)
	}

	return &ONNXModel{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		seqLen:  cfg.SequenceLength,
	}, nil
}

func (m *ONNXModel) Predict(symbol string, w *features.Window) (Prediction, error) {
	if w.Len() < m.seqLen {
		return Prediction{}, fmt.Errorf("%s: need %d rows, got %d", symbol, m.seqLen, w.Len())
	}
	rows := w.Tail(m.seqLen, features.CanonicalColumns)

	m.mu.Lock()
	defer m.mu.Unlock()

	data := m.input.GetData()
	for i, v := range rows {
		data[i] = float32(v)
	}
	if err := m.session.Run(); err != nil {
		return Prediction{}, fmt.Errorf("inference failed: %v", err)
	}
	out := m.output.GetData()
	p := Prediction{Return: float64(out[0])}
	if len(out) > 1 {
		c := float64(out[1])
		p.Confidence = &c
	}
	return p, nil
}

func (m *ONNXModel) Close() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	if m.output != nil {
		m.output.Destroy()
	}
}
