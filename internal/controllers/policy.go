package controllers

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/san-kum/quadgrid/internal/sim"
)

// Policy is a trained feed-forward actor network used for inference only.
// Hidden layers use tanh; the output layer is squashed with tanh so actions
// land in [-1, 1] and can be denormalized by the environment.
type Policy struct {
	layers []policyLayer
}

type policyLayer struct {
	weights [][]float64 // [out][in]
	biases  []float64
}

type policyFile struct {
	Layers []struct {
		Weights [][]float64 `json:"weights"`
		Biases  []float64   `json:"biases"`
	} `json:"layers"`
}

// LoadPolicy reads network weights from a JSON file exported after training.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var pf policyFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if len(pf.Layers) == 0 {
		return nil, fmt.Errorf("policy %s has no layers", path)
	}

	p := &Policy{layers: make([]policyLayer, len(pf.Layers))}
	for i, l := range pf.Layers {
		if len(l.Weights) != len(l.Biases) {
			return nil, fmt.Errorf("layer %d: %d weight rows but %d biases",
				i, len(l.Weights), len(l.Biases))
		}
		p.layers[i] = policyLayer{weights: l.Weights, biases: l.Biases}
	}
	return p, nil
}

// NewPolicy builds a policy directly from weight matrices. Used in tests.
func NewPolicy(weights [][][]float64, biases [][]float64) *Policy {
	p := &Policy{layers: make([]policyLayer, len(weights))}
	for i := range weights {
		p.layers[i] = policyLayer{weights: weights[i], biases: biases[i]}
	}
	return p
}

// Act runs a forward pass over the observation and returns the normalized
// action in [-1, 1].
func (p *Policy) Act(obs sim.State) sim.Control {
	v := []float64(obs)
	for _, l := range p.layers {
		next := make([]float64, len(l.weights))
		for i, row := range l.weights {
			sum := l.biases[i]
			for j, w := range row {
				if j < len(v) {
					sum += w * v[j]
				}
			}
			next[i] = math.Tanh(sum)
		}
		v = next
	}
	return sim.Control(v)
}

// NumActions reports the width of the output layer.
func (p *Policy) NumActions() int {
	if len(p.layers) == 0 {
		return 0
	}
	return len(p.layers[len(p.layers)-1].weights)
}
