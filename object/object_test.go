package object_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/object"
)

func TestInternStringDedupesByContent(t *testing.T) {
	h := object.NewHeap()
	r1 := h.InternString("hello")
	r2 := h.InternString("hello")
	require.Equal(t, r1, r2)

	r3 := h.InternString("world")
	require.NotEqual(t, r1, r3)
}

func TestValueEqualityByKind(t *testing.T) {
	require.True(t, object.Equal(object.NumberVal(1), object.NumberVal(1)))
	require.False(t, object.Equal(object.NumberVal(1), object.NumberVal(2)))
	require.True(t, object.Equal(object.NullVal(), object.NullVal()))
	require.False(t, object.Equal(object.BoolVal(true), object.NullVal()))
}

func TestValueTruthy(t *testing.T) {
	require.False(t, object.NullVal().Truthy())
	require.False(t, object.BoolVal(false).Truthy())
	require.True(t, object.BoolVal(true).Truthy())
	require.True(t, object.NumberVal(0).Truthy())
}

func TestTablePutGetDelete(t *testing.T) {
	h := object.NewHeap()
	tbl := object.NewTable()

	key := object.ObjVal(h.InternString("k"))
	isNew := tbl.Put(h, key, object.NumberVal(42))
	require.True(t, isNew)
	require.Equal(t, 1, tbl.Len())

	v, ok := tbl.Get(h, key)
	require.True(t, ok)
	require.Equal(t, 42.0, v.AsNumber())

	isNew = tbl.Put(h, key, object.NumberVal(7))
	require.False(t, isNew)
	v, _ = tbl.Get(h, key)
	require.Equal(t, 7.0, v.AsNumber())

	require.True(t, tbl.Delete(h, key))
	_, ok = tbl.Get(h, key)
	require.False(t, ok)
	require.Equal(t, 0, tbl.Len())
}

func TestTableGrowsAndKeepsAllEntries(t *testing.T) {
	h := object.NewHeap()
	tbl := object.NewTable()

	const n = 200
	for i := 0; i < n; i++ {
		key := object.NumberVal(float64(i))
		tbl.Put(h, key, object.NumberVal(float64(i*2)))
	}
	require.Equal(t, n, tbl.Len())
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(h, object.NumberVal(float64(i)))
		require.True(t, ok)
		require.Equal(t, float64(i*2), v.AsNumber())
	}
}

func TestClassResolveWalksSuperChain(t *testing.T) {
	base := object.NewClass("Base")
	method := &object.ObjClosure{}
	base.Methods["greet"] = method

	derived := object.NewClass("Derived")
	derived.Super = base

	got, ok := derived.Resolve("greet")
	require.True(t, ok)
	require.Same(t, method, got)

	_, ok = derived.Resolve("missing")
	require.False(t, ok)
}

func TestUpvalueCloseDetachesFromSlot(t *testing.T) {
	slot := object.NumberVal(1)
	uv := object.NewOpenUpvalue(&slot)
	require.Equal(t, 1.0, uv.Get().AsNumber())

	slot = object.NumberVal(2)
	require.Equal(t, 2.0, uv.Get().AsNumber())

	uv.Close()
	slot = object.NumberVal(3)
	require.Equal(t, 2.0, uv.Get().AsNumber())

	uv.Set(object.NumberVal(9))
	require.Equal(t, 9.0, uv.Get().AsNumber())
}

func TestCollectFreesUnreachableObjects(t *testing.T) {
	h := object.NewHeap()

	keptRef := h.Alloc(&object.ObjList{})
	droppedRef := h.Alloc(&object.ObjList{}) // unreachable once collection runs

	kept := object.ObjVal(keptRef)
	h.Collect(func(mark func(object.Value)) {
		mark(kept)
	})

	require.NotNil(t, h.Get(keptRef))
	require.Nil(t, h.Get(droppedRef))
}

func TestCollectReclaimsSlotForReuse(t *testing.T) {
	h := object.NewHeap()

	garbage := h.Alloc(&object.ObjList{})
	h.Collect(func(mark func(object.Value)) {})
	require.Nil(t, h.Get(garbage))

	reused := h.Alloc(&object.ObjList{})
	require.Equal(t, garbage, reused)
}

func TestModuleHasUniqueID(t *testing.T) {
	m1 := object.NewModule("a")
	m2 := object.NewModule("b")
	require.NotEqual(t, m1.ID, m2.ID)
}
