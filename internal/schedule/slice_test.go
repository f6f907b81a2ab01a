package schedule_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/torosent/crankloop/internal/schedule"
)

func TestSliceKnownValues(t *testing.T) {
	tests := []struct {
		total, parts int
		want         []int
	}{
		{4, 2, []int{2, 2}},
		{5, 2, []int{3, 2}},
		{7, 3, []int{2, 3, 2}},
		{10, 4, []int{3, 2, 3, 2}},
		{1, 1, []int{1}},
		{6, 6, []int{1, 1, 1, 1, 1, 1}},
	}
	for _, tt := range tests {
		got, err := schedule.Slice(tt.total, tt.parts)
		if err != nil {
			t.Fatalf("Slice(%d, %d) error = %v", tt.total, tt.parts, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Slice(%d, %d) = %v, want %v", tt.total, tt.parts, got, tt.want)
		}
	}
}

func TestSliceProperties(t *testing.T) {
	for total := 1; total <= 120; total++ {
		for parts := 1; parts <= total; parts++ {
			got, err := schedule.Slice(total, parts)
			if err != nil {
				t.Fatalf("Slice(%d, %d) error = %v", total, parts, err)
			}
			if len(got) != parts {
				t.Fatalf("Slice(%d, %d) len = %d", total, parts, len(got))
			}
			sum, lo, hi := 0, got[0], got[0]
			for _, share := range got {
				if share < 1 {
					t.Fatalf("Slice(%d, %d) = %v has share < 1", total, parts, got)
				}
				sum += share
				lo = min(lo, share)
				hi = max(hi, share)
			}
			if sum != total {
				t.Fatalf("Slice(%d, %d) sums to %d", total, parts, sum)
			}
			if hi-lo > 1 {
				t.Fatalf("Slice(%d, %d) = %v is unbalanced", total, parts, got)
			}
			again, _ := schedule.Slice(total, parts)
			if !reflect.DeepEqual(got, again) {
				t.Fatalf("Slice(%d, %d) not deterministic: %v vs %v", total, parts, got, again)
			}
		}
	}
}

func TestSliceRejectsInvalidArguments(t *testing.T) {
	cases := [][2]int{{0, 1}, {1, 0}, {-3, 2}, {2, 3}}
	for _, c := range cases {
		if _, err := schedule.Slice(c[0], c[1]); !errors.Is(err, schedule.ErrInvalidSlice) {
			t.Errorf("Slice(%d, %d) error = %v, want ErrInvalidSlice", c[0], c[1], err)
		}
	}
}

func TestOffsets(t *testing.T) {
	got := schedule.Offsets([]int{3, 2, 3, 2})
	want := []int{0, 3, 5, 8}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Offsets = %v, want %v", got, want)
	}
}
