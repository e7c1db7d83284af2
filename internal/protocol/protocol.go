// Package protocol holds the concrete message types exchanged between the
// reference miner and validator.
package protocol

import (
	"hetu/internal/synapse"
)

type MathSumSynapse struct {
	synapse.Synapse

	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	SumResult float64 `json:"sum_result,omitempty"`
}

func NewMathSum(x, y float64) *MathSumSynapse {
	return &MathSumSynapse{Synapse: synapse.New(), X: x, Y: y}
}

func (m *MathSumSynapse) ServiceName() string    { return "MathSumSynapse" }
func (m *MathSumSynapse) Empty() synapse.Message { return &MathSumSynapse{} }

type MathProductSynapse struct {
	synapse.Synapse

	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ProductResult float64 `json:"product_result,omitempty"`
}

func NewMathProduct(x, y float64) *MathProductSynapse {
	return &MathProductSynapse{Synapse: synapse.New(), X: x, Y: y}
}

func (m *MathProductSynapse) ServiceName() string    { return "MathProductSynapse" }
func (m *MathProductSynapse) Empty() synapse.Message { return &MathProductSynapse{} }
