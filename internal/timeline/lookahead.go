package timeline

import "fmt"

// LookaheadLayerName returns the name of the n-th (zero-based) look-ahead
// layer for layer.
func LookaheadLayerName(layer string, n int) string {
	if n == 0 {
		return layer + "_lookahead"
	}
	return fmt.Sprintf("%s_lookahead_%d", layer, n+1)
}

// AddLookahead projects upcoming instances into state for every mapping
// that requests look-ahead. It returns state with extra layers added; the
// input map is not modified.
func AddLookahead(state ResolvedState, resolved *Resolved, mappings Mappings) ResolvedState {
	layers := make(map[string]ResolvedInstance, len(state.Layers))
	for k, v := range state.Layers {
		layers[k] = v
	}

	for layer, mapping := range mappings {
		if mapping.Lookahead == LookaheadNone {
			continue
		}
		if _, active := state.Layers[layer]; active && mapping.Lookahead == LookaheadWhenClear {
			continue
		}

		depth := mapping.LookaheadDepth
		if depth <= 0 {
			depth = 1
		}

		for n, inst := range resolved.Upcoming(layer, state.Time, depth) {
			ri := inst.toResolved()
			ri.Layer = LookaheadLayerName(layer, n)
			ri.IsLookahead = true
			ri.LookaheadForLayer = layer
			layers[ri.Layer] = ri
		}
	}

	state.Layers = layers
	return state
}
