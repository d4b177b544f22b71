package schedule

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func entry(id int64, order int, offset, duration int64) Entry {
	return Entry{
		Track:  Track{ID: id, Title: "t", Duration: duration},
		Order:  order,
		Offset: offset,
	}
}

// A(0, 180000) B(180000, 200000)
func exampleTimeline(t *testing.T) *Timeline {
	t.Helper()
	tl, err := NewTimeline([]Entry{
		entry(1, 0, 0, 180000),
		entry(2, 1, 180000, 200000),
	})
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	return tl
}

func at(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func ids(entries []Entry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Track.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewTimeline(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		tl := exampleTimeline(t)
		if tl.Duration() != 380000 {
			t.Errorf("Duration = %d, want 380000", tl.Duration())
		}
		if tl.Len() != 2 {
			t.Errorf("Len = %d, want 2", tl.Len())
		}
	})

	t.Run("sorted by order", func(t *testing.T) {
		tl, err := NewTimeline([]Entry{
			entry(2, 1, 100, 50),
			entry(1, 0, 0, 100),
		})
		if err != nil {
			t.Fatalf("NewTimeline: %v", err)
		}
		if got := ids(tl.Entries()); !equalIDs(got, []int64{1, 2}) {
			t.Errorf("entries = %v, want [1 2]", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		tl, err := NewTimeline(nil)
		if err != nil {
			t.Fatalf("NewTimeline(nil): %v", err)
		}
		if tl.Duration() != 0 {
			t.Errorf("Duration = %d, want 0", tl.Duration())
		}
	})

	cases := []struct {
		name    string
		entries []Entry
	}{
		{"gap", []Entry{entry(1, 0, 0, 100), entry(2, 1, 150, 100)}},
		{"overlap", []Entry{entry(1, 0, 0, 100), entry(2, 1, 50, 100)}},
		{"first not at zero", []Entry{entry(1, 0, 10, 100)}},
		{"zero duration", []Entry{entry(1, 0, 0, 0)}},
		{"negative duration", []Entry{entry(1, 0, 0, -5)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTimeline(tc.entries)
			if !errors.Is(err, ErrInvalidTimeline) {
				t.Errorf("err = %v, want ErrInvalidTimeline", err)
			}
		})
	}
}

func TestBuildTimeline(t *testing.T) {
	tl, err := BuildTimeline([]Entry{
		{Track: Track{ID: 3, Duration: 30}, Order: 2},
		{Track: Track{ID: 1, Duration: 10}, Order: 0},
		{Track: Track{ID: 2, Duration: 20}, Order: 1},
	})
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	want := []int64{0, 10, 30}
	for i, e := range tl.Entries() {
		if e.Offset != want[i] {
			t.Errorf("entry %d offset = %d, want %d", i, e.Offset, want[i])
		}
	}
	if tl.Duration() != 60 {
		t.Errorf("Duration = %d, want 60", tl.Duration())
	}
}

func TestTimelineCoversLoop(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		n := 1 + r.Intn(20)
		entries := make([]Entry, n)
		for i := range entries {
			entries[i] = Entry{Track: Track{ID: int64(i), Duration: 1 + r.Int63n(300000)}, Order: i}
		}
		tl, err := BuildTimeline(entries)
		if err != nil {
			t.Fatalf("BuildTimeline: %v", err)
		}

		var cursor int64
		for _, e := range tl.Entries() {
			if e.Offset != cursor {
				t.Fatalf("round %d: entry offset %d, want %d", round, e.Offset, cursor)
			}
			cursor = e.End()
		}
		if cursor != tl.Duration() {
			t.Fatalf("round %d: coverage ends at %d, loop is %d", round, cursor, tl.Duration())
		}
	}
}

func TestClockPosition(t *testing.T) {
	c := Clock{Active: true, LoopStart: 1000, RestartOffset: 0}

	if _, err := c.Position(at(2000), 0); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("zero loop: err = %v, want ErrNotPlaying", err)
	}
	if _, err := (Clock{}).Position(at(2000), 100); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("inactive: err = %v, want ErrNotPlaying", err)
	}

	pos, err := c.Position(at(1250), 100)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 50 {
		t.Errorf("pos = %d, want 50", pos)
	}

	// 起点在未来时也落在 [0, loop) 内
	pos, _ = c.Position(at(970), 100)
	if pos != 70 {
		t.Errorf("pos before epoch = %d, want 70", pos)
	}
}

func TestClockTransitions(t *testing.T) {
	const loop = 1000
	c := StartAt(at(0), 100)

	paused := c.Paused(at(250), loop)
	if paused.Active {
		t.Fatal("paused clock still active")
	}
	if paused.RestartOffset != 350 {
		t.Errorf("frozen offset = %d, want 350", paused.RestartOffset)
	}
	if again := paused.Paused(at(900), loop); again != paused {
		t.Errorf("pausing twice changed clock: %+v", again)
	}

	resumed := paused.Resumed(at(5000))
	pos, err := resumed.Position(at(5000), loop)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 350 {
		t.Errorf("resumed position = %d, want 350", pos)
	}

	seeked := resumed.Seeked(at(5000), -400, loop)
	if pos, _ := seeked.Position(at(5000), loop); pos != 950 {
		t.Errorf("seek backward across zero = %d, want 950", pos)
	}

	pausedSeek := paused.Seeked(at(9999), 700, loop)
	if pausedSeek.Active || pausedSeek.RestartOffset != 50 {
		t.Errorf("paused seek = %+v, want inactive at 50", pausedSeek)
	}

	reset := resumed.Reset(at(7000))
	if !reset.Active || reset.RestartOffset != 0 || reset.LoopStart != 7000 {
		t.Errorf("reset = %+v", reset)
	}
}

func TestResolveExample(t *testing.T) {
	tl := exampleTimeline(t)
	c := Clock{Active: true}

	np, err := Resolve(tl, c, at(190000))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if np.Entry.Track.ID != 2 || np.Offset != 10000 {
		t.Errorf("Resolve(190000) = track %d offset %d, want track 2 offset 10000", np.Entry.Track.ID, np.Offset)
	}

	again, err := Resolve(tl, c, at(570000))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if again != np {
		t.Errorf("Resolve(570000) = %+v, want %+v", again, np)
	}

	window, err := ResolveWindow(tl, c, at(190000), 15000, 5000)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if got := ids(window); !equalIDs(got, []int64{1, 2}) {
		t.Errorf("window = %v, want [1 2]", got)
	}
}

func TestResolveBoundaries(t *testing.T) {
	tl := exampleTimeline(t)
	c := Clock{Active: true}

	cases := []struct {
		now     int64
		trackID int64
		offset  int64
	}{
		{0, 1, 0},
		{179999, 1, 179999},
		{180000, 2, 0},
		{379999, 2, 199999},
		{380000, 1, 0},
	}
	for _, tc := range cases {
		np, err := Resolve(tl, c, at(tc.now))
		if err != nil {
			t.Fatalf("Resolve(%d): %v", tc.now, err)
		}
		if np.Entry.Track.ID != tc.trackID || np.Offset != tc.offset {
			t.Errorf("Resolve(%d) = track %d offset %d, want track %d offset %d",
				tc.now, np.Entry.Track.ID, np.Offset, tc.trackID, tc.offset)
		}
	}
}

func TestResolveNotPlaying(t *testing.T) {
	if _, err := Resolve(Empty(), Clock{Active: true}, at(10)); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("empty timeline: err = %v, want ErrNotPlaying", err)
	}
	if _, err := Resolve(exampleTimeline(t), Clock{}, at(10)); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("inactive clock: err = %v, want ErrNotPlaying", err)
	}
	if _, err := ResolveWindow(Empty(), Clock{Active: true}, at(10), 5, 5); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("window on empty timeline: err = %v, want ErrNotPlaying", err)
	}
}

func randomTimeline(t *testing.T, r *rand.Rand) *Timeline {
	t.Helper()
	n := 1 + r.Intn(12)
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Track: Track{ID: int64(i + 1), Duration: 1 + r.Int63n(240000)}, Order: i}
	}
	tl, err := BuildTimeline(entries)
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	return tl
}

func TestResolveProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		tl := randomTimeline(t, r)
		c := Clock{Active: true, LoopStart: r.Int63n(1 << 40), RestartOffset: r.Int63n(tl.Duration())}
		now := at(c.LoopStart + r.Int63n(1<<32))

		np, err := Resolve(tl, c, now)
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		t.Run("periodic", func(t *testing.T) {
			later, err := Resolve(tl, c, now.Add(time.Duration(tl.Duration())*time.Millisecond))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if later != np {
				t.Errorf("Resolve(T+loop) = %+v, want %+v", later, np)
			}
		})

		t.Run("offset inside entry", func(t *testing.T) {
			if np.Offset < 0 || np.Offset >= np.Entry.Duration() {
				t.Errorf("offset %d outside [0, %d)", np.Offset, np.Entry.Duration())
			}
		})

		t.Run("zero window", func(t *testing.T) {
			window, err := ResolveWindow(tl, c, now, 0, 0)
			if err != nil {
				t.Fatalf("ResolveWindow: %v", err)
			}
			if len(window) != 1 || window[0] != np.Entry {
				t.Errorf("ResolveWindow(0, 0) = %v, want [%d]", ids(window), np.Entry.Track.ID)
			}
		})

		t.Run("full window", func(t *testing.T) {
			before := r.Int63n(tl.Duration() + 1)
			after := tl.Duration() - before + r.Int63n(1000)
			window, err := ResolveWindow(tl, c, now, before, after)
			if err != nil {
				t.Fatalf("ResolveWindow: %v", err)
			}
			if len(window) != tl.Len() {
				t.Fatalf("full window has %d entries, want %d", len(window), tl.Len())
			}
			if window[0] != np.Entry {
				t.Errorf("full window starts at track %d, want %d", window[0].Track.ID, np.Entry.Track.ID)
			}
			seen := make(map[int64]bool)
			for _, e := range window {
				if seen[e.Track.ID] {
					t.Errorf("track %d returned twice", e.Track.ID)
				}
				seen[e.Track.ID] = true
			}
		})

		t.Run("partial window", func(t *testing.T) {
			if tl.Duration() < 4 {
				return
			}
			before := r.Int63n(tl.Duration() / 2)
			after := r.Int63n(tl.Duration() / 2)
			window, err := ResolveWindow(tl, c, now, before, after)
			if err != nil {
				t.Fatalf("ResolveWindow: %v", err)
			}
			seen := make(map[int64]bool)
			found := false
			for _, e := range window {
				if seen[e.Track.ID] {
					t.Errorf("track %d returned twice", e.Track.ID)
				}
				seen[e.Track.ID] = true
				if e == np.Entry {
					found = true
				}
			}
			if !found {
				t.Errorf("window %v does not contain current track %d", ids(window), np.Entry.Track.ID)
			}
		})
	}
}

func TestResolveWindowWrapsZero(t *testing.T) {
	tl, err := BuildTimeline([]Entry{
		{Track: Track{ID: 1, Duration: 100}, Order: 0},
		{Track: Track{ID: 2, Duration: 100}, Order: 1},
		{Track: Track{ID: 3, Duration: 100}, Order: 2},
		{Track: Track{ID: 4, Duration: 100}, Order: 3},
	})
	if err != nil {
		t.Fatalf("BuildTimeline: %v", err)
	}
	c := Clock{Active: true}

	// position 10, window [-40, 60) => [360, 400) + [0, 60)
	window, err := ResolveWindow(tl, c, at(10), 50, 50)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if got := ids(window); !equalIDs(got, []int64{4, 1}) {
		t.Errorf("wrapped window = %v, want [4 1]", got)
	}

	// 单曲目时间线，窗口两段都落在同一个条目上
	single, _ := BuildTimeline([]Entry{{Track: Track{ID: 9, Duration: 100}}})
	window, err = ResolveWindow(single, c, at(5), 10, 10)
	if err != nil {
		t.Fatalf("ResolveWindow: %v", err)
	}
	if got := ids(window); !equalIDs(got, []int64{9}) {
		t.Errorf("single-entry window = %v, want [9]", got)
	}

	// 负值按 0 处理
	window, _ = ResolveWindow(tl, c, at(150), -100, -100)
	if got := ids(window); !equalIDs(got, []int64{2}) {
		t.Errorf("negative bounds window = %v, want [2]", got)
	}
}

func TestResolveWindowHugeBounds(t *testing.T) {
	tl := exampleTimeline(t)
	c := Clock{Active: true}

	tests := []struct {
		name          string
		before, after int64
	}{
		{"before only", 10_000_000_000_000, 0},
		{"after only", 0, 1<<63 - 1},
		{"both max", 1<<63 - 1, 1<<63 - 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, err := ResolveWindow(tl, c, at(190000), tt.before, tt.after)
			if err != nil {
				t.Fatalf("ResolveWindow: %v", err)
			}
			if got := ids(window); !equalIDs(got, []int64{2, 1}) {
				t.Errorf("window = %v, want [2 1]", got)
			}
		})
	}
}

func TestResolveCursorWhilePaused(t *testing.T) {
	tl, err := BuildTimeline([]Entry{
		{UniqueID: "a", Track: Track{ID: 1, Duration: 1000}, Order: 0},
		{UniqueID: "b", Track: Track{ID: 2, Duration: 2000}, Order: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	now := time.UnixMilli(50_000)
	c := Clock{Active: false, RestartOffset: 1500}

	if _, err := Resolve(tl, c, now); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("Resolve err = %v, want ErrNotPlaying", err)
	}
	np, err := ResolveCursor(tl, c, now)
	if err != nil {
		t.Fatalf("ResolveCursor: %v", err)
	}
	if np.Entry.UniqueID != "b" || np.Offset != 500 {
		t.Errorf("cursor = %s@%d, want b@500", np.Entry.UniqueID, np.Offset)
	}
	if _, err := ResolveCursor(Empty(), c, now); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("empty timeline err = %v", err)
	}
}

func TestTimelineEqual(t *testing.T) {
	build := func(d int64) *Timeline {
		tl, err := BuildTimeline([]Entry{
			{UniqueID: "a", Track: Track{ID: 1, Duration: 1000}},
			{UniqueID: "b", Track: Track{ID: 2, Duration: d}, Order: 1},
		})
		if err != nil {
			t.Fatal(err)
		}
		return tl
	}
	if !build(2000).Equal(build(2000)) {
		t.Error("identical timelines not equal")
	}
	if build(2000).Equal(build(3000)) {
		t.Error("different durations compare equal")
	}
	if !Empty().Equal(nil) {
		t.Error("empty timeline should equal nil")
	}
}
