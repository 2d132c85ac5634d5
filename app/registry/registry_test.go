package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelibr/e2e/lib/modelibr"
)

func TestRegistry_Miss(t *testing.T) {
	r := New()
	for _, kind := range []Kind{KindModel, KindTextureSet, KindSound, KindSoundCategory, KindPack, KindProject, KindSprite} {
		e, ok := r.Get(kind, "never-saved")
		assert.False(t, ok, kind)
		assert.Nil(t, e, kind)
		assert.False(t, r.Has(kind, "never-saved"), kind)
	}
	_, ok := Lookup[Model](r, "never-saved")
	assert.False(t, ok)
}

func TestRegistry_RoundTrip(t *testing.T) {
	r := New()
	entities := map[string]Entity{
		"cube":      Model{ID: 1, Name: "cube", VersionID: 10},
		"bricks":    TextureSet{ID: 2, Name: "bricks", ModelID: 1, VersionID: 10},
		"beep":      Sound{ID: 3, Name: "beep", FileID: 30, Duration: 1.25, CategoryID: 4},
		"effects":   SoundCategory{ID: 4, Name: "effects", Description: "sfx"},
		"starter":   Pack{ID: 5, Name: "starter"},
		"demo":      Project{ID: 6, Name: "demo"},
		"explosion": Sprite{ID: 7, Name: "explosion", FileID: 70},
	}
	for alias, e := range entities {
		r.Save(alias, e)
	}
	for alias, e := range entities {
		got, ok := r.Get(e.Kind(), alias)
		require.True(t, ok, alias)
		assert.Equal(t, e, got, alias)
		assert.True(t, r.Has(e.Kind(), alias))
	}

	m, ok := Lookup[Model](r, "cube")
	require.True(t, ok)
	assert.Equal(t, 10, m.VersionID)

	s, err := Require[Sound](r, "beep")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, s.Duration, 0.0001)
}

func TestRegistry_KindsAreSeparate(t *testing.T) {
	r := New()
	r.Save("shared", Pack{ID: 1, Name: "p"})
	r.Save("shared", Project{ID: 2, Name: "q"})

	pack, ok := Lookup[Pack](r, "shared")
	require.True(t, ok)
	assert.Equal(t, 1, pack.ID)
	project, ok := Lookup[Project](r, "shared")
	require.True(t, ok)
	assert.Equal(t, 2, project.ID)
	assert.False(t, r.Has(KindModel, "shared"))
}

func TestRegistry_OverwriteLastWriteWins(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 1, Name: "cube", VersionID: 10})
	r.Save("cube", Model{ID: 2, Name: "cube renamed"})

	got, ok := Lookup[Model](r, "cube")
	require.True(t, ok)
	assert.Equal(t, Model{ID: 2, Name: "cube renamed"}, got, "no merge with the previous record")
}

func TestRegistry_Require(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 1, Name: "cube"})

	_, err := Require[TextureSet](r, "bricks")
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, KindTextureSet, missing.Kind)
	assert.Equal(t, "bricks", missing.Alias)
	assert.Contains(t, err.Error(), `no texture-set registered under alias "bricks"`)
	assert.Contains(t, err.Error(), "cube=#1")
}

func TestRegistry_Update(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 1, Name: "cube"})

	t.Run("name and linkage", func(t *testing.T) {
		err := Update(r, "cube", func(m *Model) {
			m.Name = "cube (1)"
			m.VersionID = 11
		})
		require.NoError(t, err)
		got, _ := Lookup[Model](r, "cube")
		assert.Equal(t, Model{ID: 1, Name: "cube (1)", VersionID: 11}, got)
	})

	t.Run("identifier is immutable", func(t *testing.T) {
		err := Update(r, "cube", func(m *Model) {
			m.ID = 99
			m.Name = "hijacked"
		})
		require.ErrorIs(t, err, ErrIdentifierChanged)
		got, _ := Lookup[Model](r, "cube")
		assert.Equal(t, 1, got.ID)
		assert.Equal(t, "cube (1)", got.Name, "rejected update leaves the entry untouched")
	})

	t.Run("missing alias", func(t *testing.T) {
		err := Update(r, "sphere", func(m *Model) { m.Name = "x" })
		var missing *MissingError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "sphere", missing.Alias)
	})
}

func TestRegistry_Discard(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 1, Name: "cube"})
	r.Discard(KindModel, "cube")
	assert.False(t, r.Has(KindModel, "cube"))
	r.Discard(KindModel, "cube")
	r.Discard(KindSound, "unknown")
}

func TestRegistry_Snapshots(t *testing.T) {
	r := New()
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := VersionSnapshot{
		VersionID: 10,
		Thumbnail: ThumbnailDescriptor{Path: "/thumbs/10.webp", Status: modelibr.ThumbnailReady, UpdatedAt: updated},
		UISrc:     "/api/models/1/thumbnail/file?v=10",
	}
	r.SaveSnapshot(snap)

	got, ok := r.Snapshot(10)
	require.True(t, ok)
	assert.Equal(t, snap, got)

	_, ok = r.Snapshot(11)
	assert.False(t, ok)

	// snapshots are independent of aliases pointing at the same version
	r.Save("a", Model{ID: 1, Name: "cube", VersionID: 10})
	r.Save("b", Model{ID: 1, Name: "cube", VersionID: 10})
	r.Discard(KindModel, "a")
	_, ok = r.Snapshot(10)
	assert.True(t, ok)
}

func TestRegistry_DebugInfo(t *testing.T) {
	r := New()
	assert.Equal(t, "registry is empty", r.DebugInfo())

	r.Save("sphere", Model{ID: 2, Name: "sphere"})
	r.Save("cube", Model{ID: 1, Name: "cube"})
	r.Save("beep", Sound{ID: 5, Name: "beep"})
	r.SaveSnapshot(VersionSnapshot{VersionID: 20})
	r.SaveSnapshot(VersionSnapshot{VersionID: 10})

	assert.Equal(t, "registered model(2): cube=#1, sphere=#2; sound(1): beep=#5; snapshots: [10 20]", r.DebugInfo())
	assert.Equal(t, []string{"cube", "sphere"}, r.Aliases(KindModel))
}

func TestRegistry_Reset(t *testing.T) {
	r := New()
	r.Save("cube", Model{ID: 1, Name: "cube"})
	r.SaveSnapshot(VersionSnapshot{VersionID: 10})
	r.Reset()
	assert.False(t, r.Has(KindModel, "cube"))
	_, ok := r.Snapshot(10)
	assert.False(t, ok)
	assert.Equal(t, "registry is empty", r.DebugInfo())
}

func TestShared(t *testing.T) {
	assert.Same(t, Shared(), Shared())
	assert.NotSame(t, New(), New())
}

func TestRegistry_Concurrent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alias := fmt.Sprintf("m%d", i)
			r.Save(alias, Model{ID: i + 1, Name: alias})
			_, _ = r.Get(KindModel, alias)
			_ = r.DebugInfo()
			_ = Update(r, alias, func(m *Model) { m.VersionID = 100 + i })
		}()
	}
	wg.Wait()
	assert.Len(t, r.Aliases(KindModel), 20)
	m, ok := Lookup[Model](r, "m7")
	require.True(t, ok)
	assert.Equal(t, 107, m.VersionID)
}
