package optimizer

import (
	"fmt"

	"github.com/jdirani/mneflow/checkpoints"
)

// Common helper functions for optimizer state management

// extractBufferStates copies every buffer into checkpoint tensors named
// "<prefix>_<i>".
func extractBufferStates(buffers [][]float64, prefix, stateType string) []checkpoints.OptimizerTensor {
	out := make([]checkpoints.OptimizerTensor, 0, len(buffers))
	for i, buffer := range buffers {
		out = append(out, checkpoints.OptimizerTensor{
			Name:      fmt.Sprintf("%s_%d", prefix, i),
			Shape:     []int{len(buffer)},
			Data:      append([]float64(nil), buffer...),
			StateType: stateType,
		})
	}
	return out
}

// restoreBufferState copies saved data into the buffer named by tensor.
func restoreBufferState(buffers [][]float64, tensor checkpoints.OptimizerTensor) error {
	idx := extractBufferIndex(tensor.Name)
	if idx < 0 || idx >= len(buffers) {
		return fmt.Errorf("invalid buffer index in tensor name: %s", tensor.Name)
	}
	if len(tensor.Data) != len(buffers[idx]) {
		return fmt.Errorf("data size mismatch for %s: expected %d elements, got %d",
			tensor.Name, len(buffers[idx]), len(tensor.Data))
	}
	copy(buffers[idx], tensor.Data)
	return nil
}

// extractFloatParam safely extracts a float parameter from the state map
func extractFloatParam(params map[string]interface{}, key string, defaultValue float64) float64 {
	switch val := params[key].(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	}
	return defaultValue
}

// extractBoolParam safely extracts a bool parameter from the state map
func extractBoolParam(params map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := params[key].(bool); ok {
		return val
	}
	return defaultValue
}

// extractUint64Param accepts the uint64 GetState stores and the float64 a
// JSON round trip turns it into.
func extractUint64Param(params map[string]interface{}, key string, defaultValue uint64) uint64 {
	switch val := params[key].(type) {
	case uint64:
		return val
	case float64:
		return uint64(val)
	}
	return defaultValue
}
