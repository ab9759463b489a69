package presence

import (
	"sync"
	"time"

	"workplace-monitor/internal/models"
)

// Person one detected person in frame pixel coordinates.
type Person struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	TrackID int64   `json:"track_id"`
}

func (p Person) Point() models.Point {
	return models.Point{X: p.X, Y: p.Y}
}

// Frame one detection result published for a camera.
// Zones, when present, carries precomputed containment keyed by zone id and
// takes precedence over the polygon test.
type Frame struct {
	CameraID  int64          `json:"camera_id"`
	FrameID   int64          `json:"frame_id"`
	Timestamp time.Time      `json:"timestamp"`
	People    []Person       `json:"people"`
	Zones     map[int64]bool `json:"zones,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// FrameSlot holds only the most recent frame of one camera. Writers never
// block on readers: an unread frame is replaced by a newer one.
type FrameSlot struct {
	mu       sync.Mutex
	frame    *Frame
	seq      uint64
	readSeq  uint64
	replaced uint64
}

func NewFrameSlot() *FrameSlot {
	return &FrameSlot{}
}

// Put stores f as the latest frame. It reports whether an unread frame was dropped.
func (s *FrameSlot) Put(f *Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := s.frame != nil && s.readSeq < s.seq
	if dropped {
		s.replaced++
	}
	s.frame = f
	s.seq++
	return dropped
}

// Latest returns the newest frame if it is newer than afterSeq, together with
// its sequence number. It never blocks.
func (s *FrameSlot) Latest(afterSeq uint64) (*Frame, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frame == nil || s.seq <= afterSeq {
		return nil, s.seq, false
	}
	s.readSeq = s.seq
	return s.frame, s.seq, true
}

// Replaced counts frames overwritten before anyone read them.
func (s *FrameSlot) Replaced() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaced
}
