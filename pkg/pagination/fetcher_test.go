package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

func newTestFetcher(pageSize int) *Fetcher {
	fast := retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	executor := retry.NewExecutor(retry.Options{
		Configs: map[retry.ErrorClass]retry.Config{
			retry.ErrorClassUnknown: fast,
			retry.ErrorClassServer:  fast,
		},
		Logger: zerolog.Nop(),
	})
	cfg := DefaultConfig()
	cfg.PageSize = pageSize
	cfg.Name = "test"
	return NewFetcher(executor, cfg, zerolog.Nop())
}

// fakeListing serves records "r0".."r{total-1}" by offset and limit.
type fakeListing struct {
	total   int
	offsets []int
	failAt  map[int]int // offset -> remaining failures
	failErr error
}

func (l *fakeListing) list(_ context.Context, offset, limit int) (Page[string], error) {
	l.offsets = append(l.offsets, offset)
	if n := l.failAt[offset]; n != 0 {
		if n > 0 {
			l.failAt[offset] = n - 1
		}
		return Page[string]{}, l.failErr
	}

	end := min(offset+limit, l.total)
	var items []string
	for i := offset; i < end; i++ {
		items = append(items, fmt.Sprintf("r%d", i))
	}
	return Page[string]{Items: items, TotalCount: l.total}, nil
}

func TestPageCount(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		pageSize int
		expected int
	}{
		{name: "empty listing", total: 0, pageSize: 100, expected: 1},
		{name: "smaller than one page", total: 42, pageSize: 100, expected: 1},
		{name: "exactly one page", total: 100, pageSize: 100, expected: 1},
		{name: "one record over a page", total: 101, pageSize: 100, expected: 2},
		{name: "partial last page", total: 250, pageSize: 100, expected: 3},
		{name: "exact multiple", total: 300, pageSize: 100, expected: 3},
		{name: "invalid page size", total: 10, pageSize: 0, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageCount(tt.total, tt.pageSize); got != tt.expected {
				t.Errorf("PageCount(%d, %d) = %d, want %d", tt.total, tt.pageSize, got, tt.expected)
			}
		})
	}
}

func TestFetchAll_PartialLastPage(t *testing.T) {
	listing := &fakeListing{total: 250}

	items, err := FetchAll(context.Background(), newTestFetcher(100), listing.list)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(items) != 250 {
		t.Errorf("len(items) = %d, want 250", len(items))
	}
	if len(listing.offsets) != 3 {
		t.Errorf("listing calls = %d, want 3", len(listing.offsets))
	}
	wantOffsets := []int{0, 100, 200}
	for i, off := range wantOffsets {
		if i < len(listing.offsets) && listing.offsets[i] != off {
			t.Errorf("call %d offset = %d, want %d", i, listing.offsets[i], off)
		}
	}

	// No gaps and no duplicates, in page order
	for i, item := range items {
		if want := fmt.Sprintf("r%d", i); item != want {
			t.Fatalf("items[%d] = %q, want %q", i, item, want)
		}
	}
}

func TestFetchAll_SinglePage(t *testing.T) {
	tests := []struct {
		name  string
		total int
	}{
		{name: "empty", total: 0},
		{name: "smaller than page", total: 7},
		{name: "exactly one page", total: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listing := &fakeListing{total: tt.total}

			items, err := FetchAll(context.Background(), newTestFetcher(100), listing.list)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(items) != tt.total {
				t.Errorf("len(items) = %d, want %d", len(items), tt.total)
			}
			if len(listing.offsets) != 1 {
				t.Errorf("listing calls = %d, want exactly 1", len(listing.offsets))
			}
		})
	}
}

func TestFetchAll_TransientPageFailureRetried(t *testing.T) {
	listing := &fakeListing{
		total:   230,
		failAt:  map[int]int{100: 2},
		failErr: errors.New("gateway timeout"),
	}

	items, err := FetchAll(context.Background(), newTestFetcher(100), listing.list)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(items) != 230 {
		t.Errorf("len(items) = %d, want 230", len(items))
	}
	// 1 first page + 3 attempts at offset 100 + 1 last page
	if len(listing.offsets) != 5 {
		t.Errorf("listing calls = %d, want 5", len(listing.offsets))
	}
}

func TestFetchAll_PersistentPageFailureIsFatal(t *testing.T) {
	pageErr := errors.New("internal server error")
	listing := &fakeListing{
		total:   300,
		failAt:  map[int]int{100: -1},
		failErr: pageErr,
	}

	items, err := FetchAll(context.Background(), newTestFetcher(100), listing.list)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if items != nil {
		t.Errorf("Expected no partial listing, got %d items", len(items))
	}
	if !errors.Is(err, retry.ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if !errors.Is(err, pageErr) {
		t.Errorf("Expected page error in chain, got %v", err)
	}
	// The page at offset 200 is never requested
	for _, off := range listing.offsets {
		if off == 200 {
			t.Error("Listing continued after a fatal page failure")
		}
	}
}

func TestFetchAll_FirstPageNonRetryable(t *testing.T) {
	listing := &fakeListing{
		total:   10,
		failAt:  map[int]int{0: -1},
		failErr: retry.Permanent(errors.New("unauthorized")),
	}

	_, err := FetchAll(context.Background(), newTestFetcher(100), listing.list)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if len(listing.offsets) != 1 {
		t.Errorf("listing calls = %d, want 1 (no retry for client errors)", len(listing.offsets))
	}
}

func TestFetchAll_ListingShrinks(t *testing.T) {
	calls := 0
	list := func(_ context.Context, offset, limit int) (Page[int], error) {
		calls++
		if offset == 0 {
			return Page[int]{Items: []int{1, 2}, TotalCount: 6}, nil
		}
		return Page[int]{TotalCount: 2}, nil
	}

	items, err := FetchAll(context.Background(), newTestFetcher(2), list)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (stop at first empty page)", calls)
	}
}

func TestUnique(t *testing.T) {
	items := []string{"a", "b", "a", "c", "b"}

	out, dropped := Unique(items, func(s string) string { return s })

	if dropped != 2 {
		t.Errorf("dropped = %d, want 2", dropped)
	}
	want := []string{"a", "b", "c"}
	if len(out) != len(want) {
		t.Fatalf("Unique() = %v, want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Unique()[%d] = %q, want %q", i, out[i], want[i])
		}
	}
}
