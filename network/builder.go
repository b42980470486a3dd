package network

import (
	"fmt"
	"math"

	"github.com/tsawler/go-lora/tensor"
)

// Builder helps construct networks module by module
type Builder struct {
	name    string
	modules []*Module
	err     error
}

// NewBuilder creates a new network builder
func NewBuilder(name string) *Builder {
	return &Builder{
		name:    name,
		modules: make([]*Module, 0),
	}
}

// AddModule adds a pre-constructed module to the network
func (b *Builder) AddModule(m *Module) *Builder {
	b.modules = append(b.modules, m)
	return b
}

// AddDense adds a fully-connected module with xavier-initialized weights
func (b *Builder) AddDense(name string, inputSize, outputSize int, useBias bool) *Builder {
	if b.err != nil {
		return b
	}

	limit := math.Sqrt(6.0 / float64(inputSize+outputSize))
	weight, err := tensor.RandomNormal([]int{outputSize, inputSize}, 0, float32(limit), tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize dense module %q: %v", name, err)
		return b
	}

	module := &Module{Name: name, Kind: Dense, Weight: weight}
	if useBias {
		bias, err := tensor.Zeros([]int{outputSize}, tensor.Float32, tensor.CPU)
		if err != nil {
			b.err = fmt.Errorf("failed to initialize dense bias %q: %v", name, err)
			return b
		}
		module.Bias = bias
	}
	return b.AddModule(module)
}

// AddConv2D adds a 2D convolution module. Weight layout is
// [outputChannels, inputChannels, kernelSize, kernelSize].
func (b *Builder) AddConv2D(name string, inputChannels, outputChannels, kernelSize int, useBias bool) *Builder {
	if b.err != nil {
		return b
	}

	fanIn := inputChannels * kernelSize * kernelSize
	fanOut := outputChannels * kernelSize * kernelSize
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	weight, err := tensor.RandomNormal(
		[]int{outputChannels, inputChannels, kernelSize, kernelSize},
		0, float32(limit), tensor.Float32, tensor.CPU,
	)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize conv2d module %q: %v", name, err)
		return b
	}

	module := &Module{Name: name, Kind: Conv2D, Weight: weight}
	if useBias {
		bias, err := tensor.Zeros([]int{outputChannels}, tensor.Float32, tensor.CPU)
		if err != nil {
			b.err = fmt.Errorf("failed to initialize conv2d bias %q: %v", name, err)
			return b
		}
		module.Bias = bias
	}
	return b.AddModule(module)
}

// AddLayerNorm adds a layer normalization module
func (b *Builder) AddLayerNorm(name string, numFeatures int) *Builder {
	if b.err != nil {
		return b
	}

	gamma, err := tensor.Full([]int{numFeatures}, 1, tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize layernorm module %q: %v", name, err)
		return b
	}
	beta, err := tensor.Zeros([]int{numFeatures}, tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize layernorm bias %q: %v", name, err)
		return b
	}
	return b.AddModule(&Module{Name: name, Kind: LayerNorm, Weight: gamma, Bias: beta})
}

// AddGroupNorm adds a group normalization module
func (b *Builder) AddGroupNorm(name string, numChannels int) *Builder {
	if b.err != nil {
		return b
	}

	gamma, err := tensor.Full([]int{numChannels}, 1, tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize groupnorm module %q: %v", name, err)
		return b
	}
	beta, err := tensor.Zeros([]int{numChannels}, tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize groupnorm bias %q: %v", name, err)
		return b
	}
	return b.AddModule(&Module{Name: name, Kind: GroupNorm, Weight: gamma, Bias: beta})
}

// AddEmbedding adds an embedding table module
func (b *Builder) AddEmbedding(name string, numEmbeddings, embeddingDim int) *Builder {
	if b.err != nil {
		return b
	}

	weight, err := tensor.RandomNormal([]int{numEmbeddings, embeddingDim}, 0, 0.02, tensor.Float32, tensor.CPU)
	if err != nil {
		b.err = fmt.Errorf("failed to initialize embedding module %q: %v", name, err)
		return b
	}
	return b.AddModule(&Module{Name: name, Kind: Embedding, Weight: weight})
}

// AddDropout adds a parameterless dropout module
func (b *Builder) AddDropout(name string) *Builder {
	return b.AddModule(&Module{Name: name, Kind: Dropout})
}

// Build validates the module list and produces the network
func (b *Builder) Build() (*Network, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.modules) == 0 {
		return nil, fmt.Errorf("network %q has no modules", b.name)
	}

	byName := make(map[string]*Module, len(b.modules))
	for _, m := range b.modules {
		if m.Name == "" {
			return nil, fmt.Errorf("network %q has an unnamed module", b.name)
		}
		if _, exists := byName[m.Name]; exists {
			return nil, fmt.Errorf("network %q has duplicate module name %q", b.name, m.Name)
		}
		byName[m.Name] = m
	}

	return &Network{
		name:    b.name,
		modules: b.modules,
		byName:  byName,
	}, nil
}
