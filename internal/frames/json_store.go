package frames

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DocumentVersion is the version written by SaveDocument.
const DocumentVersion = 1

// Document is the on-disk layout of a JSONStore.
type Document struct {
	Version int             `json:"version"`
	Frames  []*SpatialFrame `json:"frames"`
}

// JSONStore keeps frames in memory in insertion order and reads and writes
// them as a single JSON document.
type JSONStore struct {
	mu     sync.RWMutex
	order  []string
	frames map[string]*SpatialFrame
	now    func() time.Time
}

// NewJSONStore returns an empty store.
func NewJSONStore() *JSONStore {
	return &JSONStore{frames: make(map[string]*SpatialFrame), now: time.Now}
}

// SaveFrame inserts or replaces f. An empty ID is filled with a new UUID,
// the pose is normalised and UpdatedAtNs is stamped; all are written back to
// f. A pose that cannot be normalised is rejected.
func (s *JSONStore) SaveFrame(f *SpatialFrame) error {
	if f == nil {
		return fmt.Errorf("save frame: nil frame")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if err := f.normalizePose(); err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	f.UpdatedAtNs = s.now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.frames[f.ID]; !exists {
		s.order = append(s.order, f.ID)
	}
	s.frames[f.ID] = f.clone()
	return nil
}

// Frame returns a copy of the frame with the given id.
func (s *JSONStore) Frame(id string) (*SpatialFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.frames[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	return f.clone(), nil
}

// Frames returns copies of all frames in insertion order.
func (s *JSONStore) Frames() ([]*SpatialFrame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SpatialFrame, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.frames[id].clone())
	}
	return out, nil
}

// DeleteFrame removes the frame with the given id.
func (s *JSONStore) DeleteFrame(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.frames[id]; !ok {
		return fmt.Errorf("%w: %s", ErrFrameNotFound, id)
	}
	delete(s.frames, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SaveDocument writes every frame to w as an indented JSON document.
func (s *JSONStore) SaveDocument(w io.Writer) error {
	frames, _ := s.Frames()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Document{Version: DocumentVersion, Frames: frames}); err != nil {
		return fmt.Errorf("encode frames document: %w", err)
	}
	return nil
}

// LoadDocument replaces the store contents with the document read from r.
// The store is left unchanged if the document is malformed or has an
// unsupported version, or if ReplaceFrames rejects its frames.
func (s *JSONStore) LoadDocument(r io.Reader) error {
	var doc Document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode frames document: %w", err)
	}
	if doc.Version != DocumentVersion {
		return fmt.Errorf("unsupported frames document version %d", doc.Version)
	}
	if err := s.ReplaceFrames(doc.Frames); err != nil {
		return fmt.Errorf("frames document: %w", err)
	}
	return nil
}

// ReplaceFrames replaces the store contents with copies of frames, keeping
// their order and UpdatedAtNs. The store is left unchanged if any frame is
// nil, has an empty or duplicate id, or has a pose that cannot be normalised.
func (s *JSONStore) ReplaceFrames(frames []*SpatialFrame) error {
	order := make([]string, 0, len(frames))
	byID := make(map[string]*SpatialFrame, len(frames))
	for i, f := range frames {
		if f == nil || f.ID == "" {
			return fmt.Errorf("entry %d has no id", i)
		}
		if _, dup := byID[f.ID]; dup {
			return fmt.Errorf("duplicate frame id %s", f.ID)
		}
		c := f.clone()
		if err := c.normalizePose(); err != nil {
			return err
		}
		order = append(order, c.ID)
		byID[c.ID] = c
	}

	s.mu.Lock()
	s.order = order
	s.frames = byID
	s.mu.Unlock()
	return nil
}

// LoadFile reads a frames document from path.
func (s *JSONStore) LoadFile(path string) error {
	if filepath.Ext(path) != ".json" {
		return fmt.Errorf("frames file must be .json: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open frames file: %w", err)
	}
	defer f.Close()
	if err := s.LoadDocument(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// SaveFile writes the frames document to path, replacing it atomically.
func (s *JSONStore) SaveFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create frames directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frames-*.json")
	if err != nil {
		return fmt.Errorf("create temp frames file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.SaveDocument(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp frames file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace frames file: %w", err)
	}
	return nil
}
