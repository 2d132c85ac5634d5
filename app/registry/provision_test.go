package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelibr/e2e/lib/modelibr"
)

// fakeBackend hands out sequential ids and remembers which are still alive.
type fakeBackend struct {
	nextID  int
	alive   map[int]bool
	creates int
}

func newFakeBackend(start int) *fakeBackend {
	return &fakeBackend{nextID: start, alive: map[int]bool{}}
}

func (b *fakeBackend) provisioner(name string) Provisioner[Model] {
	return Provisioner[Model]{
		Alive: func(_ context.Context, m Model) (bool, error) {
			return b.alive[m.ID], nil
		},
		Create: func(context.Context) (Model, error) {
			b.creates++
			id := b.nextID
			b.nextID++
			b.alive[id] = true
			return Model{ID: id, Name: name, VersionID: id * 10}, nil
		},
	}
}

func TestEnsure_Idempotent(t *testing.T) {
	r := New()
	b := newFakeBackend(1)
	ctx := context.Background()

	first, err := Ensure(ctx, r, "cube", b.provisioner("cube"))
	require.NoError(t, err)
	second, err := Ensure(ctx, r, "cube", b.provisioner("cube"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, b.creates, "second call is a cache hit")

	got, ok := Lookup[Model](r, "cube")
	require.True(t, ok)
	assert.Equal(t, first, got)
}

func TestEnsure_StaleEntryIsReprovisioned(t *testing.T) {
	r := New()
	b := newFakeBackend(43)
	r.Save("cube", Model{ID: 42, Name: "cube"})

	// id 42 was deleted out of band, the liveness check reports it missing
	fresh, err := Ensure(context.Background(), r, "cube", b.provisioner("cube"))
	require.NoError(t, err)
	assert.NotEqual(t, 42, fresh.ID)
	assert.Equal(t, 43, fresh.ID)

	got, ok := Lookup[Model](r, "cube")
	require.True(t, ok)
	assert.Equal(t, 43, got.ID, "registry entry is overwritten with the fresh id")
	assert.Equal(t, 1, b.creates)
}

func TestEnsure_WithoutLivenessCheckTrustsCache(t *testing.T) {
	r := New()
	r.Save("starter", Pack{ID: 5, Name: "starter"})

	got, err := Ensure(context.Background(), r, "starter", Provisioner[Pack]{
		Create: func(context.Context) (Pack, error) {
			t.Fatal("create must not be called on a cache hit")
			return Pack{}, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, got.ID)
}

func TestEnsure_LivenessError(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 42, Name: "cube"})
	boom := errors.New("connection refused")

	_, err := Ensure(context.Background(), r, "cube", Provisioner[Model]{
		Alive:  func(context.Context, Model) (bool, error) { return false, boom },
		Create: func(context.Context) (Model, error) { return Model{ID: 1}, nil },
	})
	require.ErrorIs(t, err, boom)
	got, ok := Lookup[Model](r, "cube")
	require.True(t, ok, "entry is kept when liveness is unknown")
	assert.Equal(t, 42, got.ID)
}

func TestEnsure_ProvisionFailure(t *testing.T) {
	r := New()
	backendErr := &modelibr.ResponseError{StatusCode: 500, Body: "disk full"}

	_, err := Ensure(context.Background(), r, "beep", Provisioner[Sound]{
		Create: func(context.Context) (Sound, error) { return Sound{}, backendErr },
	})

	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, KindSound, provErr.Kind)
	assert.Equal(t, "beep", provErr.Alias)
	var respErr *modelibr.ResponseError
	require.ErrorAs(t, err, &respErr, "backend error is preserved")
	assert.Contains(t, err.Error(), "disk full")
	assert.False(t, r.Has(KindSound, "beep"))
}

func TestEnsure_NoIdentifier(t *testing.T) {
	r := New()
	_, err := Ensure(context.Background(), r, "fx", Provisioner[SoundCategory]{
		Create: func(context.Context) (SoundCategory, error) { return SoundCategory{Name: "fx"}, nil },
	})
	require.ErrorIs(t, err, ErrNoIdentifier)
	assert.False(t, r.Has(KindSoundCategory, "fx"))
}

func TestEnsure_NoCreatePath(t *testing.T) {
	r := New()
	_, err := Ensure(context.Background(), r, "demo", Provisioner[Project]{})
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, KindProject, missing.Kind)
}
