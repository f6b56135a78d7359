package actor

// Step applies a reducer to a single (state, input) pair and returns the next
// state and effects. It does not execute effects.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}

// Run folds a sequence of inputs through a reducer, returning the final state
// and every effect produced along the way in order.
func Run[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects...)
	}
	return state, all
}
