package cmap

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNew_ShardCount(t *testing.T) {
	for _, n := range []int{0, -1, 3, 12} {
		if got := len(New[string, int](n).shards); got != DefaultShards {
			t.Errorf("New(%d) shards = %d, want %d", n, got, DefaultShards)
		}
	}
	if got := len(New[string, int](64).shards); got != 64 {
		t.Errorf("New(64) shards = %d", got)
	}
}

func TestMap_SetGetDelete(t *testing.T) {
	m := New[string, int](4)
	m.Set("a", 1)
	m.Set("a", 2)

	if v, ok := m.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}
	if _, ok := m.Get("b"); ok {
		t.Error("Get(b) found a missing key")
	}
	if !m.Delete("a") {
		t.Error("Delete(a) = false")
	}
	if m.Delete("a") {
		t.Error("second Delete(a) = true")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d", m.Len())
	}
}

type className string

func TestMap_KeysSortedWithNamedKeyType(t *testing.T) {
	m := New[className, bool](8)
	for _, k := range []className{"ref.units", "cat.nom", "cat.branches"} {
		m.Set(k, true)
	}
	want := []className{"cat.branches", "cat.nom", "ref.units"}
	if got := m.Keys(); !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
}

func TestMap_RangeStops(t *testing.T) {
	m := New[string, int](4)
	for i := range 50 {
		m.Set(fmt.Sprint(i), i)
	}
	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range visited %d entries, want 10", seen)
	}
}

func TestMap_GetOrCreateOnce(t *testing.T) {
	m := New[string, *int](4)
	var created atomic.Int32
	var wg sync.WaitGroup
	results := make([]*int, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.GetOrCreate("k", func() *int {
				created.Add(1)
				return new(int)
			})
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("create ran %d times", created.Load())
	}
	for _, r := range results {
		if r != results[0] {
			t.Fatal("GetOrCreate returned different values")
		}
	}
}

func TestMap_Concurrent(t *testing.T) {
	m := New[string, int](16)
	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("%d-%d", w, i)
				m.Set(key, i)
				m.Get(key)
				if i%2 == 0 {
					m.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	if m.Len() != 800 {
		t.Errorf("Len() = %d, want 800", m.Len())
	}
}

func TestMap_ConcurrentShortKeys(t *testing.T) {
	m := New[string, int](16)
	var wg sync.WaitGroup
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("k%03d", g)
			for i := range 200 {
				m.Set(key, i)
				m.Set("", i)
				m.Get(key)
			}
		}()
	}
	wg.Wait()

	if m.Len() != 5 {
		t.Errorf("Len() = %d, want 5", m.Len())
	}
	for g := range 4 {
		if v, ok := m.Get(fmt.Sprintf("k%03d", g)); !ok || v != 199 {
			t.Errorf("k%03d = %d, %v, want 199", g, v, ok)
		}
	}
	if m.shard("k000") != m.shard("k000") {
		t.Error("a key must always land on the same shard")
	}
}
