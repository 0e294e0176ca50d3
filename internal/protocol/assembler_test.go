package protocol

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/lancast/lancast/internal/media"
)

// fakeClock lets staleness tests advance time without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestAssembler() (*Assembler, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	a := NewAssembler()
	a.now = clock.now
	return a, clock
}

func fragmentFrame(t *testing.T, frame *media.EncodedFrame) []Packet {
	t.Helper()
	var seq uint32
	packets, err := Fragment(frame, &seq)
	if err != nil {
		t.Fatalf("fragment: %v", err)
	}
	return packets
}

func TestAssembler_ReverseOrderLargeFrame(t *testing.T) {
	// Synthetic 1080p YUV420p frame: 3,110,400 bytes at 1184 bytes per
	// fragment must yield exactly 2627 fragments.
	data := make([]byte, 3_110_400)
	rand.New(rand.NewSource(1)).Read(data)
	frame := &media.EncodedFrame{Data: data, Type: media.VideoKeyframe, PTS: 42, FrameID: 17}

	packets := fragmentFrame(t, frame)
	if len(packets) != 2627 {
		t.Fatalf("got %d fragments, want 2627", len(packets))
	}

	a, _ := newTestAssembler()
	for i := len(packets) - 1; i > 0; i-- {
		if got := a.Feed(packets[i]); got != nil {
			t.Fatalf("premature completion after fragment %d", i)
		}
	}

	got := a.Feed(packets[0])
	if got == nil {
		t.Fatal("no frame after final fragment")
	}
	if !bytes.Equal(got.Data, data) {
		t.Error("reassembled bytes differ from input")
	}
	if got.Type != media.VideoKeyframe {
		t.Errorf("type = %v, want video-keyframe", got.Type)
	}
	if got.FrameID != 17 {
		t.Errorf("frame id = %d, want 17", got.FrameID)
	}
	if a.Pending() != 0 {
		t.Errorf("%d frames still pending after completion", a.Pending())
	}
}

func TestAssembler_ShuffledRoundtrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, size := range []int{1, MaxFragmentData, MaxFragmentData + 1, 10 * MaxFragmentData} {
		data := make([]byte, size)
		rng.Read(data)
		frame := &media.EncodedFrame{Data: data, Type: media.VideoDelta, FrameID: 5}

		packets := fragmentFrame(t, frame)
		rng.Shuffle(len(packets), func(i, j int) {
			packets[i], packets[j] = packets[j], packets[i]
		})

		a, _ := newTestAssembler()
		var got *media.EncodedFrame
		for i, p := range packets {
			result := a.Feed(p)
			if result != nil && i != len(packets)-1 {
				t.Fatalf("size %d: completed on fragment %d of %d", size, i+1, len(packets))
			}
			if result != nil {
				got = result
			}
		}
		if got == nil {
			t.Fatalf("size %d: never completed", size)
		}
		if !bytes.Equal(got.Data, data) {
			t.Errorf("size %d: reassembled bytes differ", size)
		}
		if got.Type != media.VideoDelta {
			t.Errorf("size %d: type = %v, want video-delta", size, got.Type)
		}
	}
}

func TestAssembler_DuplicateFragment(t *testing.T) {
	data := make([]byte, MaxFragmentData*2)
	frame := &media.EncodedFrame{Data: data, Type: media.VideoDelta, FrameID: 1}
	packets := fragmentFrame(t, frame)

	a, _ := newTestAssembler()
	if a.Feed(packets[0]) != nil {
		t.Fatal("completed with one of two fragments")
	}
	if a.Feed(packets[0]) != nil {
		t.Fatal("duplicate caused premature completion")
	}
	if a.Feed(packets[1]) == nil {
		t.Fatal("no frame after all distinct fragments")
	}
}

func TestAssembler_RejectsMalformed(t *testing.T) {
	a, _ := newTestAssembler()

	bad := Packet{Header: Header{Magic: 0x11, Version: Version, Type: TypeVideoData, FragTotal: 1}}
	if a.Feed(bad) != nil || a.Pending() != 0 {
		t.Error("invalid magic mutated assembler state")
	}

	zero := Packet{Header: Header{Magic: Magic, Version: Version, Type: TypeVideoData, FragTotal: 0}}
	if a.Feed(zero) != nil || a.Pending() != 0 {
		t.Error("frag_total 0 mutated assembler state")
	}

	// Out-of-range index is dropped, but the frame entry stays.
	first := Packet{Header: Header{Magic: Magic, Version: Version, Type: TypeVideoData, FrameID: 2, FragIdx: 0, FragTotal: 2}, Payload: []byte{1}}
	a.Feed(first)
	oob := Packet{Header: Header{Magic: Magic, Version: Version, Type: TypeVideoData, FrameID: 2, FragIdx: 2, FragTotal: 2}, Payload: []byte{2}}
	if a.Feed(oob) != nil {
		t.Error("out-of-range frag_idx completed a frame")
	}
	if a.Pending() != 1 {
		t.Errorf("pending = %d, want 1", a.Pending())
	}
}

func TestAssembler_FragTotalMismatchDropped(t *testing.T) {
	a, _ := newTestAssembler()

	h := Header{Magic: Magic, Version: Version, Type: TypeVideoData, FrameID: 8, FragIdx: 0, FragTotal: 3}
	a.Feed(Packet{Header: h, Payload: []byte{1}})

	// Same frame, different frag_total: malformed sender, drop.
	h2 := h
	h2.FragIdx = 1
	h2.FragTotal = 2
	if a.Feed(Packet{Header: h2, Payload: []byte{2}}) != nil {
		t.Error("mismatching frag_total completed a frame")
	}

	h3 := h
	h3.FragIdx = 1
	a.Feed(Packet{Header: h3, Payload: []byte{2}})
	h4 := h
	h4.FragIdx = 2
	got := a.Feed(Packet{Header: h4, Payload: []byte{3}})
	if got == nil {
		t.Fatal("consistent fragments did not complete")
	}
	if !bytes.Equal(got.Data, []byte{1, 2, 3}) {
		t.Errorf("data = %v, want [1 2 3]", got.Data)
	}
}

func TestAssembler_TypeScopedFrameIDs(t *testing.T) {
	// Video and audio frames sharing frame id 4 must not collide.
	a, _ := newTestAssembler()

	video := Packet{Header: Header{Magic: Magic, Version: Version, Type: TypeVideoData, FrameID: 4, FragIdx: 0, FragTotal: 2}, Payload: []byte{1}}
	audio := Packet{Header: Header{Magic: Magic, Version: Version, Type: TypeAudioData, FrameID: 4, FragIdx: 0, FragTotal: 1}, Payload: []byte{9}}

	if a.Feed(video) != nil {
		t.Fatal("half a video frame completed")
	}
	got := a.Feed(audio)
	if got == nil {
		t.Fatal("audio frame did not complete")
	}
	if got.Type != media.Audio {
		t.Errorf("type = %v, want audio", got.Type)
	}
	if a.Pending() != 1 {
		t.Errorf("pending = %d, want the partial video frame", a.Pending())
	}
}

func TestAssembler_IncompleteKeyframeOneShot(t *testing.T) {
	data := make([]byte, MaxFragmentData*4)
	frame := &media.EncodedFrame{Data: data, Type: media.VideoKeyframe, FrameID: 20}
	packets := fragmentFrame(t, frame)

	a, clock := newTestAssembler()
	a.Feed(packets[0])
	a.Feed(packets[2])

	// Too young to report.
	if got := a.CheckIncompleteKeyframes(100 * time.Millisecond); len(got) != 0 {
		t.Fatalf("reported %d frames before age threshold", len(got))
	}

	clock.advance(150 * time.Millisecond)
	reports := a.CheckIncompleteKeyframes(100 * time.Millisecond)
	if len(reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(reports))
	}
	r := reports[0]
	if r.FrameID != 20 || r.FragTotal != 4 {
		t.Errorf("report = %+v", r)
	}
	if len(r.Missing) != 2 || r.Missing[0] != 1 || r.Missing[1] != 3 {
		t.Errorf("missing = %v, want [1 3]", r.Missing)
	}

	// One-shot: never reported again.
	clock.advance(time.Second)
	if got := a.CheckIncompleteKeyframes(100 * time.Millisecond); len(got) != 0 {
		t.Errorf("frame reported twice")
	}
}

func TestAssembler_DeltaFramesNotNacked(t *testing.T) {
	data := make([]byte, MaxFragmentData*2)
	packets := fragmentFrame(t, &media.EncodedFrame{Data: data, Type: media.VideoDelta, FrameID: 30})

	a, clock := newTestAssembler()
	a.Feed(packets[0])
	clock.advance(time.Second)
	if got := a.CheckIncompleteKeyframes(100 * time.Millisecond); len(got) != 0 {
		t.Errorf("delta frame reported for NACK")
	}
}

func TestAssembler_PurgeStale(t *testing.T) {
	data := make([]byte, MaxFragmentData*2)
	packets := fragmentFrame(t, &media.EncodedFrame{Data: data, Type: media.VideoKeyframe, FrameID: 11})

	a, clock := newTestAssembler()
	a.Feed(packets[0])
	clock.advance(600 * time.Millisecond)
	if purged := a.PurgeStale(500 * time.Millisecond); purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if a.Pending() != 0 {
		t.Fatalf("pending = %d after purge, want 0", a.Pending())
	}

	// The remaining fragment starts a fresh entry; the frame never
	// completes from pre-purge state.
	if a.Feed(packets[1]) != nil {
		t.Error("purged frame completed from a late fragment")
	}
	if a.Pending() != 1 {
		t.Errorf("pending = %d, want fresh entry", a.Pending())
	}
}

func TestAssembler_PurgeKeepsYoungFrames(t *testing.T) {
	data := make([]byte, MaxFragmentData*2)
	packets := fragmentFrame(t, &media.EncodedFrame{Data: data, Type: media.VideoDelta, FrameID: 12})

	a, clock := newTestAssembler()
	a.Feed(packets[0])
	clock.advance(100 * time.Millisecond)
	a.PurgeStale(500 * time.Millisecond)
	if a.Pending() != 1 {
		t.Errorf("young frame purged")
	}

	if a.Feed(packets[1]) == nil {
		t.Error("surviving frame failed to complete")
	}
}
