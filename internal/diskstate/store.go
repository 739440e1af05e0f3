package diskstate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/javi11/nzbqueued/internal/queue"
)

// Store persists and restores the Job Coordinator's state under a single
// "queue directory" (§4.1). It does not hold a queue.Model itself — callers
// pass one in on Save/Load so the Store stays a pure I/O boundary.
type Store struct {
	dir   string
	flush bool // whether fsync is enabled ("flush queue" option)
}

// NewStore returns a Store rooted at dir. flush controls whether every
// atomic write also fsyncs the file and its containing directory.
func NewStore(dir string, flush bool) *Store {
	return &Store{dir: dir, flush: flush}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// --- queue / history / progress -------------------------------------------------

// SaveQueue writes the full live queue to the "queue" file.
func (s *Store) SaveQueue(nzbs []*queue.NzbInfo) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)
	for _, n := range nzbs {
		writeNzbRecord(w, n)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := RecoverIncomplete(s.path("queue")); err != nil {
		return err
	}
	return WriteAtomic(s.path("queue"), buf.Bytes(), s.flush)
}

// LoadQueue reads the "queue" file, returning nil if it doesn't exist yet
// (a fresh queue directory).
func (s *Store) LoadQueue() ([]*queue.NzbInfo, error) {
	return s.loadNzbFile("queue")
}

// SaveHistory writes terminated jobs to the "history" file.
func (s *Store) SaveHistory(items []*queue.HistoryInfo) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)
	for _, h := range items {
		writeHistoryRecord(w, h)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := RecoverIncomplete(s.path("history")); err != nil {
		return err
	}
	return WriteAtomic(s.path("history"), buf.Bytes(), s.flush)
}

// LoadHistory reads the "history" file, returning nil if absent.
func (s *Store) LoadHistory() ([]*queue.HistoryInfo, error) {
	if err := RecoverIncomplete(s.path("history")); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path("history"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if _, err := readVersionHeader(r); err != nil {
		return nil, err
	}

	var out []*queue.HistoryInfo
	for {
		h, err := readHistoryRecord(r)
		if err == errEOFRecord {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

// SaveProgress writes only the NzbInfos whose Changed flag is set, as a
// delta overlay merged into "queue" on next load (§4.1). It does not clear
// Changed itself; the caller does that only after a full save.
func (s *Store) SaveProgress(nzbs []*queue.NzbInfo) error {
	var changed []*queue.NzbInfo
	for _, n := range nzbs {
		if n.Changed {
			changed = append(changed, n)
		}
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)
	for _, n := range changed {
		writeNzbRecord(w, n)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := RecoverIncomplete(s.path("progress")); err != nil {
		return err
	}
	return WriteAtomic(s.path("progress"), buf.Bytes(), s.flush)
}

// LoadProgress reads the "progress" delta file, returning nil if absent.
func (s *Store) LoadProgress() ([]*queue.NzbInfo, error) {
	return s.loadNzbFile("progress")
}

// DiscardProgress removes the "progress" file; called after a full save,
// which already reflects everything "progress" would have contributed.
func (s *Store) DiscardProgress() error {
	err := os.Remove(s.path("progress"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *Store) loadNzbFile(name string) ([]*queue.NzbInfo, error) {
	if err := RecoverIncomplete(s.path(name)); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	if _, err := readVersionHeader(r); err != nil {
		return nil, err
	}

	var out []*queue.NzbInfo
	for {
		n, err := readNzbRecord(r)
		if err == errEOFRecord {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// MergeProgress applies a loaded progress delta onto a loaded queue, by id,
// replacing matching entries (the delta always represents a more recent
// state than what "queue" recorded).
func MergeProgress(base, delta []*queue.NzbInfo) []*queue.NzbInfo {
	byID := make(map[int64]int, len(base))
	for i, n := range base {
		byID[n.ID] = i
	}
	for _, d := range delta {
		if i, ok := byID[d.ID]; ok {
			base[i] = d
		} else {
			base = append(base, d)
		}
	}
	return base
}

// --- per-FileInfo summary (<id>) -------------------------------------------------

// SaveFileSummary writes a FileInfo's static summary (subject, filename,
// size, groups, articles) once at admit time.
func (s *Store) SaveFileSummary(f *queue.FileInfo) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)

	fw := &fieldWriter{}
	fw.int64(f.ID).str(f.Subject).str(f.Filename).bool(f.ConfirmedFilename).
		str(f.OrigName).int64(f.Time.Unix()).size64(f.Size).size64(f.MissedSize).
		bool(f.IsParFile).int(int(f.Hash16k)).str(f.ParSetID).int(f.Priority).
		bool(f.ExtraPriority).int(f.TotalArticles)
	fmt.Fprintln(w, fw.line())

	fmt.Fprintln(w, strconv.Itoa(len(f.Groups)))
	for _, g := range f.Groups {
		fmt.Fprintln(w, g)
	}

	fmt.Fprintln(w, strconv.Itoa(len(f.Articles)))
	for _, a := range f.Articles {
		aw := &fieldWriter{}
		aw.int(a.PartNumber).size64(a.Size).str(a.MessageID).size64(a.SegmentOffset).size64(a.SegmentSize)
		fmt.Fprintln(w, aw.line())
	}

	if err := w.Flush(); err != nil {
		return err
	}
	path := s.path(strconv.FormatInt(f.ID, 10))
	if err := RecoverIncomplete(path); err != nil {
		return err
	}
	return WriteAtomic(path, buf.Bytes(), s.flush)
}

// LoadFileSummary reads the summary written by SaveFileSummary.
func (s *Store) LoadFileSummary(id int64) (*queue.FileInfo, error) {
	path := s.path(strconv.FormatInt(id, 10))
	if err := RecoverIncomplete(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(bytes.NewReader(data))
	if _, err := readVersionHeader(r); err != nil {
		return nil, err
	}

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	fr := newFieldReader(line)
	f := &queue.FileInfo{}
	f.ID = fr.int64()
	f.Subject = fr.str()
	f.Filename = fr.str()
	f.ConfirmedFilename = fr.bool()
	f.OrigName = fr.str()
	f.Time = time.Unix(fr.int64(), 0)
	f.Size = fr.size64()
	f.MissedSize = fr.size64()
	f.IsParFile = fr.bool()
	f.Hash16k = uint32(fr.int())
	f.ParSetID = fr.str()
	f.Priority = fr.int()
	f.ExtraPriority = fr.bool()
	f.TotalArticles = fr.int()
	if fr.err != nil {
		return nil, fmt.Errorf("diskstate: parse file summary %d: %w", id, fr.err)
	}

	groupCount, err := readCount(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < groupCount; i++ {
		g, err := readLine(r)
		if err != nil {
			return nil, err
		}
		f.Groups = append(f.Groups, g)
	}

	articleCount, err := readCount(r)
	if err != nil {
		return nil, err
	}
	for i := 0; i < articleCount; i++ {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		ar := newFieldReader(line)
		a := &queue.ArticleInfo{
			PartNumber:    ar.int(),
			Size:          ar.size64(),
			MessageID:     ar.str(),
			SegmentOffset: ar.size64(),
			SegmentSize:   ar.size64(),
		}
		if ar.err != nil {
			return nil, fmt.Errorf("diskstate: parse file summary %d article %d: %w", id, i, ar.err)
		}
		f.Articles = append(f.Articles, a)
	}

	return f, nil
}

// --- per-FileInfo partial download state (<id>s) -------------------------------

// SavePartialState checkpoints in-flight/succeeded/failed article status.
func (s *Store) SavePartialState(f *queue.FileInfo) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)

	fw := &fieldWriter{}
	fw.int64(f.ID).int(f.SuccessArticles).int(f.FailedArticles).size64(f.RemainingSize())
	fmt.Fprintln(w, fw.line())

	fmt.Fprintln(w, strconv.Itoa(len(f.Articles)))
	for _, a := range f.Articles {
		aw := &fieldWriter{}
		aw.int(a.PartNumber).int(int(a.Status))
		fmt.Fprintln(w, aw.line())
	}

	if err := w.Flush(); err != nil {
		return err
	}
	path := s.path(strconv.FormatInt(f.ID, 10) + "s")
	if err := RecoverIncomplete(path); err != nil {
		return err
	}
	return WriteAtomic(path, buf.Bytes(), s.flush)
}

// LoadPartialState is deliberately not implemented as a standalone reader:
// per §4.1/S3, a present "acache" sentinel at startup means any <id>s file
// may be stale (it could describe cached bytes lost with the process), so
// the loader must consult Store.CacheDirty before trusting these files at
// all. Store.LoadPartialStateIfValid embeds that check.
func (s *Store) LoadPartialStateIfValid(id int64) (successArticles, failedArticles int, remaining int64, statuses map[int]queue.ArticleStatus, ok bool, err error) {
	dirty, err := s.CacheDirty()
	if err != nil {
		return 0, 0, 0, nil, false, err
	}
	if dirty {
		// Stale: the cache held unflushed bytes when the process stopped.
		// Discard the partial checkpoint rather than risk double-counting
		// articles that were never actually written (§3 scenario S3).
		os.Remove(s.path(strconv.FormatInt(id, 10) + "s"))
		return 0, 0, 0, nil, false, nil
	}

	path := s.path(strconv.FormatInt(id, 10) + "s")
	if err := RecoverIncomplete(path); err != nil {
		return 0, 0, 0, nil, false, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, 0, 0, nil, false, nil
	}
	if err != nil {
		return 0, 0, 0, nil, false, err
	}

	r := bufio.NewReader(bytes.NewReader(data))
	if _, err := readVersionHeader(r); err != nil {
		return 0, 0, 0, nil, false, err
	}
	line, err := readLine(r)
	if err != nil {
		return 0, 0, 0, nil, false, err
	}
	fr := newFieldReader(line)
	fr.int64() // id, unused by caller
	successArticles = fr.int()
	failedArticles = fr.int()
	remaining = fr.size64()
	if fr.err != nil {
		return 0, 0, 0, nil, false, fr.err
	}

	count, err := readCount(r)
	if err != nil {
		return 0, 0, 0, nil, false, err
	}
	statuses = make(map[int]queue.ArticleStatus, count)
	for i := 0; i < count; i++ {
		line, err := readLine(r)
		if err != nil {
			return 0, 0, 0, nil, false, err
		}
		ar := newFieldReader(line)
		part := ar.int()
		statuses[part] = queue.ArticleStatus(ar.int())
	}

	return successArticles, failedArticles, remaining, statuses, true, nil
}

// --- per-FileInfo completed state (<id>c) ---------------------------------------

// SaveCompletedState writes the final crc and per-article offsets once a
// file finishes.
func (s *Store) SaveCompletedState(f *queue.FileInfo, crc uint32) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	writeVersionHeader(w, CurrentVersion)

	fw := &fieldWriter{}
	fw.int64(f.ID).int(int(crc))
	fmt.Fprintln(w, fw.line())

	fmt.Fprintln(w, strconv.Itoa(len(f.Articles)))
	for _, a := range f.Articles {
		aw := &fieldWriter{}
		aw.int(a.PartNumber).size64(a.SegmentOffset).size64(a.SegmentSize)
		fmt.Fprintln(w, aw.line())
	}

	if err := w.Flush(); err != nil {
		return err
	}
	path := s.path(strconv.FormatInt(f.ID, 10) + "c")
	if err := RecoverIncomplete(path); err != nil {
		return err
	}
	return WriteAtomic(path, buf.Bytes(), s.flush)
}

// --- acache sentinel -------------------------------------------------------------

// CacheDirty reports whether the "acache" sentinel is present, meaning the
// Article Cache held unflushed bytes when the process last stopped.
func (s *Store) CacheDirty() (bool, error) {
	_, err := os.Stat(s.path("acache"))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// SetCacheDirty creates or removes the "acache" sentinel.
func (s *Store) SetCacheDirty(dirty bool) error {
	path := s.path("acache")
	if dirty {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		return f.Close()
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// --- per-NzbInfo log (n<id>.log) -------------------------------------------------

// LogKind is one of the five kinds a per-NzbInfo log line can carry (§6).
type LogKind string

const (
	LogInfo    LogKind = "INFO"
	LogWarning LogKind = "WARNING"
	LogError   LogKind = "ERROR"
	LogDebug   LogKind = "DEBUG"
	LogDetail  LogKind = "DETAIL"
)

// AppendLog appends one tab-separated line to n<id>.log: formatted local
// time, unix time, kind, text (§6). The log itself is append-only and is
// not part of the atomic-write protocol; a torn final line after a crash is
// tolerated since it is diagnostic only.
func (s *Store) AppendLog(nzbID int64, kind LogKind, text string) error {
	path := s.path(fmt.Sprintf("n%d.log", nzbID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	now := time.Now()
	line := fmt.Sprintf("%s\t%d\t%s\t%s\n", now.Format(time.RFC3339), now.Unix(), kind, text)
	_, err = f.WriteString(line)
	return err
}

// --- cleanup ----------------------------------------------------------------------

var perIDFilePattern = regexp.MustCompile(`^(\d+)(s|c)?$`)
var nzbLogPattern = regexp.MustCompile(`^n(\d+)\.log$`)

// Cleanup walks the queue directory after a full load and deletes any
// per-id file (<id>, <id>s, <id>c, n<id>.log) whose id is not among liveIDs
// (§4.1 "Cleanup").
func (s *Store) Cleanup(liveIDs map[int64]bool) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if m := perIDFilePattern.FindStringSubmatch(name); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			if !liveIDs[id] {
				os.Remove(s.path(name))
			}
			continue
		}

		if m := nzbLogPattern.FindStringSubmatch(name); m != nil {
			id, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				continue
			}
			if !liveIDs[id] {
				os.Remove(s.path(name))
			}
		}
	}

	return nil
}

// --- small shared line helpers ----------------------------------------------------

var errEOFRecord = fmt.Errorf("diskstate: end of records")

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if line == "" {
			return "", errEOFRecord
		}
	}
	return strings.TrimRight(line, "\n"), nil
}

func readCount(r *bufio.Reader) (int, error) {
	line, err := readLine(r)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(line)
}
