package actor_test

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/greeter/internal/actor"
	"github.com/bhandras/greeter/internal/actor/actortest"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	actor.InputBase
	n int
}

type testEffect struct {
	actor.EffectBase
	n int
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	ev, ok := input.(testEvent)
	if !ok {
		return state, nil
	}
	return state + ev.n, []actor.Effect{testEffect{n: ev.n}}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	for i := 1; i <= 5; i++ {
		require.True(t, a.Enqueue(testEvent{n: i}), "enqueue %d", i)
	}

	actortest.WaitFor(t, 2*time.Second, func() bool { return a.State() == 15 }, "state=15")
	require.Len(t, rt.Effects(), 5)
}

func TestActorRuntimeEmitsFeedBack(t *testing.T) {
	t.Parallel()

	rt := &actortest.FakeRuntime{
		EmitFn: func(_ context.Context, eff actor.Effect, emit func(actor.Input)) {
			if e, ok := eff.(testEffect); ok && e.n == 1 {
				emit(testEvent{n: 100})
			}
		},
	}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()
	defer a.Stop()

	require.True(t, a.Enqueue(testEvent{n: 1}))
	actortest.WaitFor(t, 2*time.Second, func() bool { return a.State() == 101 }, "state=101")
}

func TestActorHooksObserveTransitions(t *testing.T) {
	t.Parallel()

	transitions := make(chan [2]int, 4)
	a := actor.New[int](0, sumReducer, nil, actor.WithHooks(actor.Hooks[int]{
		OnTransition: func(prev, next int, _ actor.Input) {
			transitions <- [2]int{prev, next}
		},
	}))
	a.Start()
	defer a.Stop()

	require.NoError(t, a.Send(context.Background(), testEvent{n: 2}))
	select {
	case tr := <-transitions:
		require.Equal(t, [2]int{0, 2}, tr)
	case <-time.After(2 * time.Second):
		t.Fatal("no transition observed")
	}
}

func TestActorStoppedRejectsInputs(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, sumReducer, nil)
	a.Start()
	a.Stop()

	<-a.Done()
	require.False(t, a.Enqueue(testEvent{n: 1}))
	require.ErrorIs(t, a.Send(context.Background(), testEvent{n: 1}), actor.ErrStopped)
}

func TestRunFoldsInputs(t *testing.T) {
	t.Parallel()

	state, effects := actor.Run[int](0, sumReducer, testEvent{n: 1}, testEvent{n: 2}, testEvent{n: 3})
	require.Equal(t, 6, state)
	require.Len(t, effects, 3)
}
