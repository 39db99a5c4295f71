package tracking

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"

	lru "github.com/hashicorp/golang-lru/v2"

	"analyticsengine/internal/model"
)

// Tagger assigns a tracking id to a detection's box. Implementations may be
// swapped for a real multi-frame tracker without touching callers.
type Tagger interface {
	Tag(cameraID string, bbox model.BBox) string
}

type Options struct {
	// Capacity bounds how many recent tracks are remembered per camera.
	Capacity int
	// MinIoU is the overlap needed to treat a box as a known track.
	MinIoU float64
	// Modulus bounds the numeric part of minted ids.
	Modulus uint64
}

func DefaultOptions() Options {
	return Options{
		Capacity: 256,
		MinIoU:   0.5,
		Modulus:  10000,
	}
}

// Tracker associates boxes with recently seen tracks by overlap and mints a
// fingerprint id for boxes that match nothing. A box already tagged on a
// camera keeps its first id for as long as it stays in the window, even if
// another track has since moved closer to it. Old tracks and boxes fall out
// once Capacity is exceeded. A Tracker belongs to one camera task and is not
// safe for concurrent use.
type Tracker struct {
	opts    Options
	cameras map[string]*cameraTracks
}

type cameraTracks struct {
	// last position per track id
	tracks *lru.Cache[string, model.BBox]
	// first id handed out per exact box
	seen *lru.Cache[model.BBox, string]
}

func NewTracker(opts Options) *Tracker {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultOptions().Capacity
	}
	if opts.Modulus == 0 {
		opts.Modulus = DefaultOptions().Modulus
	}
	return &Tracker{
		opts:    opts,
		cameras: make(map[string]*cameraTracks),
	}
}

// Tag returns the id a box was first given on this camera, else the id of
// the remembered track overlapping it the most, else a new
// "{camera}_track_{n}" id. Boxes shifted by a few pixels overlap their
// track and share its id.
func (t *Tracker) Tag(cameraID string, bbox model.BBox) string {
	c := t.tracksFor(cameraID)

	if id, ok := c.seen.Get(bbox); ok {
		c.tracks.Add(id, bbox)
		return id
	}

	id := t.match(c, bbox)
	if id == "" {
		id = TrackID(cameraID, bbox, t.opts.Modulus)
	}
	c.tracks.Add(id, bbox)
	c.seen.Add(bbox, id)
	return id
}

func (t *Tracker) match(c *cameraTracks, bbox model.BBox) string {
	bestID, bestIoU := "", 0.0
	for _, id := range c.tracks.Keys() {
		last, ok := c.tracks.Peek(id)
		if !ok {
			continue
		}
		// Keys runs oldest to newest, so the newest track wins ties.
		if iou := last.IoU(bbox); iou > 0 && iou >= bestIoU {
			bestID, bestIoU = id, iou
		}
	}
	if bestIoU >= t.opts.MinIoU {
		return bestID
	}
	return ""
}

// Len returns how many tracks are remembered for a camera.
func (t *Tracker) Len(cameraID string) int {
	if c, ok := t.cameras[cameraID]; ok {
		return c.tracks.Len()
	}
	return 0
}

func (t *Tracker) tracksFor(cameraID string) *cameraTracks {
	if c, ok := t.cameras[cameraID]; ok {
		return c
	}
	// New only fails for a non-positive size, which NewTracker rules out.
	tracks, _ := lru.New[string, model.BBox](t.opts.Capacity)
	seen, _ := lru.New[model.BBox, string](t.opts.Capacity)
	c := &cameraTracks{tracks: tracks, seen: seen}
	t.cameras[cameraID] = c
	return c
}

// TrackID derives the fingerprint id for a box on a camera.
func TrackID(cameraID string, bbox model.BBox, modulus uint64) string {
	return fmt.Sprintf("%s_track_%d", cameraID, fingerprint(bbox)%modulus)
}

func fingerprint(bbox model.BBox) uint64 {
	buf := make([]byte, 0, 32)
	for _, v := range [4]int{bbox.X1, bbox.Y1, bbox.X2, bbox.Y2} {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(v)))
	}
	h := fnv.New64a()
	h.Write(buf)
	return h.Sum64()
}
