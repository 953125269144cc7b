package jdb

import "testing"

func TestPosLess(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Pos
		expected bool
	}{
		{"lower wal_id", Pos{WalID: 1, Offset: 100}, Pos{WalID: 2, Offset: 0}, true},
		{"higher wal_id", Pos{WalID: 2, Offset: 0}, Pos{WalID: 1, Offset: 100}, false},
		{"same wal_id lower offset", Pos{WalID: 1, Offset: 10}, Pos{WalID: 1, Offset: 20}, true},
		{"equal positions", Pos{WalID: 1, Offset: 10}, Pos{WalID: 1, Offset: 10}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.expected {
				t.Errorf("Less() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestPosIsZero(t *testing.T) {
	if !(Pos{}).IsZero() {
		t.Error("zero-value Pos should report IsZero")
	}
	if (Pos{WalID: 1}).IsZero() {
		t.Error("non-zero Pos should not report IsZero")
	}
}
