package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goredux/persist"
)

type appState struct {
	Title string
	Count int
}

func openTemp(t *testing.T) *Persistor[appState] {
	t.Helper()
	p, err := Open[appState](Config{
		Path:     filepath.Join(t.TempDir(), "state.db"),
		Throttle: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open[appState](Config{})
	require.Error(t, err)
}

func TestPersistor_Roundtrip(t *testing.T) {
	p := openTemp(t)
	ctx := context.Background()

	_, ok, err := p.ReadState(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, p.SaveInitialState(ctx, appState{Title: "init"}))
	state, ok, err := p.ReadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, appState{Title: "init"}, state)

	require.NoError(t, p.PersistDifference(ctx, &state, appState{Title: "a", Count: 1}))
	require.NoError(t, p.PersistDifference(ctx, nil, appState{Title: "b", Count: 2}))

	state, ok, err = p.ReadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, appState{Title: "b", Count: 2}, state)

	require.NoError(t, p.DeleteState(ctx))
	_, ok, err = p.ReadState(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPersistor_SaveInitialStateDoesNotOverwrite(t *testing.T) {
	p := openTemp(t)
	ctx := context.Background()

	require.NoError(t, p.SaveInitialState(ctx, appState{Title: "first"}))
	require.NoError(t, p.PersistDifference(ctx, nil, appState{Title: "second"}))
	require.NoError(t, p.SaveInitialState(ctx, appState{Title: "third"}))

	state, ok, err := p.ReadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, appState{Title: "second"}, state)
}

func TestPersistor_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	p, err := Open[appState](Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, p.PersistDifference(ctx, nil, appState{Title: "kept", Count: 7}))
	require.NoError(t, p.Close())

	p, err = Open[appState](Config{Path: path})
	require.NoError(t, err)
	defer p.Close()

	state, ok, err := p.ReadState(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, appState{Title: "kept", Count: 7}, state)
}

func TestPersistor_DefaultThrottle(t *testing.T) {
	p, err := Open[appState](Config{Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	defer p.Close()

	require.Equal(t, persist.DefaultThrottle, p.Throttle())
}

func TestPersistor_DrivesProcessor(t *testing.T) {
	p := openTemp(t)
	proc := persist.NewProcessor[appState](p)

	require.True(t, proc.Process(persist.Trigger{Kind: "app/set"}, appState{Title: "a", Count: 1}))
	require.NoError(t, proc.WaitIdle(context.Background()))

	state, ok, err := p.ReadState(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, appState{Title: "a", Count: 1}, state)

	last, ok := proc.LastPersisted()
	require.True(t, ok)
	require.Equal(t, state, last)
}
