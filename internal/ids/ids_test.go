package ids

import (
	"testing"
	"time"
)

func TestNewAtSortsByTime(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := NewAt(base)
	second := NewAt(base.Add(time.Millisecond))
	third := NewAt(base.Add(time.Millisecond))

	if !(first < second && second < third) {
		t.Fatalf("ids not ordered: %s %s %s", first, second, third)
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	got, ok := Time(NewAt(at))
	if !ok {
		t.Fatal("expected parsable id")
	}
	if !got.Equal(at) {
		t.Fatalf("Time()=%v, want %v", got, at)
	}
	if _, ok := Time("not-an-id"); ok {
		t.Fatal("expected invalid id to be rejected")
	}
}
