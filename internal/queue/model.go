package queue

import (
	"fmt"
	"sync"
	"time"
)

// Model is the in-memory download queue plus history, guarded by a single
// mutex (the "download-queue lock", §5). Every exported method acquires the
// lock; an exported "Locked" twin assumes the caller already holds it (via
// Lock/Unlock), so multi-step operations (e.g. the Duplicate Coordinator's
// admit sequence, the Queue Coordinator's reserve/complete pair) can compose
// several primitives under one critical section without a reentrant mutex.
type Model struct {
	mu sync.Mutex

	queue   []*NzbInfo
	history []*HistoryInfo // most recent first

	byID   map[int64]*NzbInfo
	nextID int64
}

// NewModel returns an empty Model with the id generator starting at 1.
func NewModel() *Model {
	return &Model{
		byID:   make(map[int64]*NzbInfo),
		nextID: 1,
	}
}

// Lock and Unlock expose the guard directly for callers (the Duplicate
// Coordinator, the Queue Coordinator, the Queue Editor) that must hold it
// across several *Locked operations plus their own bookkeeping.
func (m *Model) Lock()   { m.mu.Lock() }
func (m *Model) Unlock() { m.mu.Unlock() }

// NextID reserves and returns the next id, used by ingest when constructing
// a new NzbInfo before it is added to the queue.
func (m *Model) NextID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.NextIDLocked()
}

func (m *Model) NextIDLocked() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// ObserveID raises the id generator above id if needed. Called once per
// loaded NzbInfo/HistoryInfo while restoring state, per §3 invariant 5.
func (m *Model) ObserveID(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ObserveIDLocked(id)
}

func (m *Model) ObserveIDLocked(id int64) {
	if id >= m.nextID {
		m.nextID = id + 1
	}
}

// AddBack appends nzb to the end of the queue.
func (m *Model) AddBack(nzb *NzbInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddBackLocked(nzb)
}

func (m *Model) AddBackLocked(nzb *NzbInfo) {
	m.ObserveIDLocked(nzb.ID)
	m.queue = append(m.queue, nzb)
	m.byID[nzb.ID] = nzb
	nzb.Changed = true
}

// AddFront inserts nzb at the head of the queue.
func (m *Model) AddFront(nzb *NzbInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddFrontLocked(nzb)
}

func (m *Model) AddFrontLocked(nzb *NzbInfo) {
	m.ObserveIDLocked(nzb.ID)
	m.queue = append([]*NzbInfo{nzb}, m.queue...)
	m.byID[nzb.ID] = nzb
	nzb.Changed = true
}

// Remove drops the NzbInfo with the given id from the queue (not history).
// Reports whether it was found.
func (m *Model) Remove(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoveLocked(id)
}

func (m *Model) RemoveLocked(id int64) bool {
	idx := m.IndexOfLocked(id)
	if idx < 0 {
		return false
	}
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	delete(m.byID, id)
	return true
}

func (m *Model) IndexOfLocked(id int64) int {
	for i, n := range m.queue {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Find returns the queued NzbInfo with the given id, or nil.
func (m *Model) Find(id int64) *NzbInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id]
}

func (m *Model) FindLocked(id int64) *NzbInfo {
	return m.byID[id]
}

// Queue returns a shallow copy of the queue slice (pointers shared; callers
// must hold the lock, or treat the snapshot as already-stale, before
// mutating fields).
func (m *Model) Queue() []*NzbInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.QueueLocked()
}

func (m *Model) QueueLocked() []*NzbInfo {
	out := make([]*NzbInfo, len(m.queue))
	copy(out, m.queue)
	return out
}

// Move relocates the NzbInfo with id to newIndex, clamped to the queue
// bounds. Returns false if id is not queued.
func (m *Model) Move(id int64, newIndex int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MoveLocked(id, newIndex)
}

func (m *Model) MoveLocked(id int64, newIndex int) bool {
	idx := m.IndexOfLocked(id)
	if idx < 0 {
		return false
	}
	if newIndex < 0 {
		newIndex = 0
	}
	if newIndex > len(m.queue)-1 {
		newIndex = len(m.queue) - 1
	}
	if newIndex == idx {
		return true
	}
	n := m.queue[idx]
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	m.queue = append(m.queue[:newIndex], append([]*NzbInfo{n}, m.queue[newIndex:]...)...)
	n.Changed = true
	return true
}

// Merge moves srcID's FileInfos into dstID's FileList and appends its
// CompletedFiles, adjusting counters, then discards src from the queue
// (§4.2, tested by scenario S5).
func (m *Model) Merge(srcID, dstID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MergeLocked(srcID, dstID)
}

func (m *Model) MergeLocked(srcID, dstID int64) error {
	src, ok := m.byID[srcID]
	if !ok {
		return fmt.Errorf("queue: merge: source id %d not queued", srcID)
	}
	dst, ok := m.byID[dstID]
	if !ok {
		return fmt.Errorf("queue: merge: destination id %d not queued", dstID)
	}
	if src == dst {
		return fmt.Errorf("queue: merge: source and destination are the same item")
	}

	for _, f := range src.FileList {
		f.NzbID = dst.ID
		dst.FileList = append(dst.FileList, f)
	}
	dst.CompletedFiles = append(dst.CompletedFiles, src.CompletedFiles...)

	dst.Size += src.Size
	dst.SuccessSize += src.SuccessSize
	dst.FailedSize += src.FailedSize
	dst.TotalArticles += src.TotalArticles
	dst.SuccessArticles += src.SuccessArticles
	dst.FailedArticles += src.FailedArticles
	dst.Changed = true

	m.RemoveLocked(src.ID)
	return nil
}

// Park moves a terminated NzbInfo from the queue to the head of history,
// wrapping it in a HistoryInfo (§4.2).
func (m *Model) Park(id int64) *HistoryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ParkLocked(id)
}

func (m *Model) ParkLocked(id int64) *HistoryInfo {
	idx := m.IndexOfLocked(id)
	if idx < 0 {
		return nil
	}
	nzb := m.queue[idx]
	m.queue = append(m.queue[:idx], m.queue[idx+1:]...)
	delete(m.byID, id)

	h := &HistoryInfo{ID: nzb.ID, Kind: HistoryKindNzb, Nzb: nzb, CompletionTime: time.Now()}
	m.history = append([]*HistoryInfo{h}, m.history...)
	return h
}

// History returns a shallow copy of the history slice, most recent first.
func (m *Model) History() []*HistoryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HistoryLocked()
}

func (m *Model) HistoryLocked() []*HistoryInfo {
	out := make([]*HistoryInfo, len(m.history))
	copy(out, m.history)
	return out
}

// AddHistory inserts h at the head of history (used when restoring from disk
// or when recording a dupe-backup directly, bypassing Park).
func (m *Model) AddHistory(h *HistoryInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddHistoryLocked(h)
}

func (m *Model) AddHistoryLocked(h *HistoryInfo) {
	m.ObserveIDLocked(h.ID)
	m.history = append([]*HistoryInfo{h}, m.history...)
}

// FindHistory returns the HistoryInfo with the given id, or nil.
func (m *Model) FindHistory(id int64) *HistoryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FindHistoryLocked(id)
}

func (m *Model) FindHistoryLocked(id int64) *HistoryInfo {
	for _, h := range m.history {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// RemoveHistory drops the HistoryInfo with the given id. Reports whether it
// was found.
func (m *Model) RemoveHistory(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RemoveHistoryLocked(id)
}

func (m *Model) RemoveHistoryLocked(id int64) bool {
	for i, h := range m.history {
		if h.ID == id {
			m.history = append(m.history[:i], m.history[i+1:]...)
			return true
		}
	}
	return false
}
