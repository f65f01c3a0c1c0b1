package cmap

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input int
		want  int
	}{
		{1, 1},
		{8, 8},
		{32, 32},
		{0, DefaultShardCount},
		{-4, DefaultShardCount},
		{12, DefaultShardCount},
	}
	for _, tt := range tests {
		if got := NewWithShards[int](tt.input).ShardCount(); got != tt.want {
			t.Errorf("NewWithShards(%d).ShardCount() = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[string]()
	m.Set("a", "1")

	if v, ok := m.Get("a"); !ok || v != "1" {
		t.Errorf("Get(a) = %q, %v", v, ok)
	}
	if !m.Delete("a") {
		t.Error("Delete(a) should report existing key")
	}
	if m.Delete("a") {
		t.Error("second Delete(a) should report missing key")
	}
	if _, ok := m.Get("a"); ok {
		t.Error("Get(a) after delete should miss")
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := New[int]()
	if !m.SetIfAbsent("k", 1) {
		t.Fatal("first SetIfAbsent should succeed")
	}
	if m.SetIfAbsent("k", 2) {
		t.Fatal("second SetIfAbsent should fail")
	}
	if v, _ := m.Get("k"); v != 1 {
		t.Errorf("value = %d, want 1", v)
	}
}

func TestCompute(t *testing.T) {
	m := New[int]()
	incr := func(old int, _ bool) (int, bool, error) { return old + 1, true, nil }

	for i := 0; i < 3; i++ {
		if err := m.Compute("c", incr); err != nil {
			t.Fatal(err)
		}
	}
	if v, _ := m.Get("c"); v != 3 {
		t.Errorf("value = %d, want 3", v)
	}

	boom := errors.New("boom")
	err := m.Compute("c", func(int, bool) (int, bool, error) { return 100, true, boom })
	if err != boom {
		t.Errorf("Compute error = %v, want boom", err)
	}
	if v, _ := m.Get("c"); v != 3 {
		t.Errorf("failed Compute changed value to %d", v)
	}

	_ = m.Compute("c", func(int, bool) (int, bool, error) { return 0, false, nil })
	if _, ok := m.Get("c"); ok {
		t.Error("Compute with keep=false should delete")
	}
}

func TestConcurrentCompute(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.Compute("shared", func(old int, _ bool) (int, bool, error) { return old + 1, true, nil })
			}
		}()
	}
	wg.Wait()
	if v, _ := m.Get("shared"); v != 5000 {
		t.Errorf("value = %d, want 5000", v)
	}
}

func TestRangeAndCount(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("key-%d", i), i)
	}
	if m.Count() != 100 {
		t.Errorf("Count() = %d, want 100", m.Count())
	}

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 4950 {
		t.Errorf("sum = %d, want 4950", sum)
	}

	visited := 0
	m.Range(func(string, int) bool {
		visited++
		return visited < 5
	})
	if visited != 5 {
		t.Errorf("early stop visited %d, want 5", visited)
	}

	m.Clear()
	if m.Count() != 0 {
		t.Errorf("Count() after Clear = %d", m.Count())
	}
}
