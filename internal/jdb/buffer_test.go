package jdb

import "testing"

func TestAllocateBufferAlignment(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
	}{
		{"exact page", PageSize},
		{"sub page", 100},
		{"multi page", PageSize*3 + 1},
		{"zero", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, err := AllocateBuffer(tt.capacity)
			if err != nil {
				t.Fatalf("AllocateBuffer failed: %v", err)
			}
			if buf.Cap()%PageSize != 0 {
				t.Errorf("capacity %d is not page-aligned", buf.Cap())
			}
			if buf.Cap() < tt.capacity {
				t.Errorf("capacity %d smaller than requested %d", buf.Cap(), tt.capacity)
			}
		})
	}
}

func TestAllocateBufferRejectsNegative(t *testing.T) {
	if _, err := AllocateBuffer(-1); err == nil {
		t.Error("expected error for negative capacity, got nil")
	}
}

func TestBufferExtendAndReset(t *testing.T) {
	buf, err := AllocateBuffer(PageSize)
	if err != nil {
		t.Fatalf("AllocateBuffer failed: %v", err)
	}

	if err := buf.Extend([]byte("hello")); err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if buf.Len() != 5 {
		t.Errorf("Len() = %d, want 5", buf.Len())
	}
	if string(buf.Bytes()) != "hello" {
		t.Errorf("Bytes() = %q, want %q", buf.Bytes(), "hello")
	}

	buf.Reset()
	if buf.Len() != 0 {
		t.Errorf("Len() after Reset() = %d, want 0", buf.Len())
	}
}

func TestBufferExtendRejectsOverflow(t *testing.T) {
	buf, err := AllocateBuffer(PageSize)
	if err != nil {
		t.Fatalf("AllocateBuffer failed: %v", err)
	}
	oversized := make([]byte, buf.Cap()+1)
	if err := buf.Extend(oversized); err == nil {
		t.Error("expected error extending past capacity, got nil")
	}
}

func TestBufferSliceInto(t *testing.T) {
	buf, err := AllocateBuffer(PageSize * 4)
	if err != nil {
		t.Fatalf("AllocateBuffer failed: %v", err)
	}
	chunks, err := buf.SliceInto(PageSize)
	if err != nil {
		t.Fatalf("SliceInto failed: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Cap() != PageSize {
			t.Errorf("chunk %d cap = %d, want %d", i, c.Cap(), PageSize)
		}
	}
}
