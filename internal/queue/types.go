// Package queue holds the in-memory data model for queued and historical
// download jobs: NzbInfo, FileInfo, ArticleInfo, CompletedFile, HistoryInfo,
// DupInfo and ServerStats, plus the operations that keep their invariants.
package queue

import "time"

// Kind distinguishes an NzbInfo that came from a local NZB file versus one
// that is still a remote-fetch placeholder.
type Kind int

const (
	KindNzb Kind = iota
	KindURL
)

// DupeMode is the deduplication policy attached to an NzbInfo.
type DupeMode int

const (
	DupeModeScore DupeMode = iota
	DupeModeAll
	DupeModeForce
)

// Status is a small terminal-state enum shared by several independent
// per-NzbInfo status fields (par, unpack, move, rename, delete, mark, url).
type Status int

const (
	StatusNone Status = iota
	StatusSuccess
	StatusFailure
	StatusSkipped
	StatusRepairPossible
	StatusDupe
	StatusManual
	StatusGood
	StatusBad
)

// PartialState describes how much of a FileInfo's articles have arrived.
type PartialState int

const (
	PartialNone PartialState = iota
	PartialPartial
	PartialCompleted
)

// ArticleStatus is the lifecycle state of one ArticleInfo.
type ArticleStatus int

const (
	ArticleUndefined ArticleStatus = iota
	ArticleRunning
	ArticleFinished
	ArticleFailed
)

// CompletedStatus is the terminal outcome recorded on a CompletedFile.
type CompletedStatus int

const (
	CompletedNone CompletedStatus = iota
	CompletedSuccess
	CompletedPartial
	CompletedFailure
)

// HistoryKind distinguishes the three shapes a HistoryInfo can wrap.
type HistoryKind int

const (
	HistoryKindNzb HistoryKind = iota
	HistoryKindURL
	HistoryKindDup
)

// DupInfoStatus is the terminal state of a compact dupe-backup record.
type DupInfoStatus int

const (
	DupInfoUnknown DupInfoStatus = iota
	DupInfoSuccess
	DupInfoFailed
	DupInfoDeleted
	DupInfoDupe
	DupInfoBad
	DupInfoGood
)

// ServerStats accumulates per-NNTP-server byte/article counters. It is
// owned by either an NzbInfo or a FileInfo.
type ServerStats map[int]*ServerStat

// ServerStat is one server's contribution.
type ServerStat struct {
	ServerID      int
	SuccessArts   int64
	FailedArts    int64
	SuccessBytes  int64
	FailedBytes   int64
}

// Clone returns a deep copy, used whenever a snapshot must outlive the lock.
func (s ServerStats) Clone() ServerStats {
	out := make(ServerStats, len(s))
	for k, v := range s {
		cp := *v
		out[k] = &cp
	}
	return out
}

// ArticleInfo is one NNTP article belonging to a FileInfo.
type ArticleInfo struct {
	PartNumber     int
	Size           int64
	MessageID      string
	Status         ArticleStatus
	ResultFilename string
	SegmentOffset  int64
	SegmentSize    int64
	CRC            uint32

	// CachedSegment holds decoded bytes while the article is held in the
	// Article Cache; nil once flushed to disk or if never cached. Owned by
	// the article package's allocator, not by ArticleInfo itself.
	CachedSegment []byte
}

// FileInfo is one article-file within one NzbInfo.
type FileInfo struct {
	ID               int64
	NzbID            int64 // integer handle to the parent, never a raw pointer (§9)
	Subject          string
	Filename         string
	ConfirmedFilename bool
	OrigName         string
	Time             time.Time
	Size             int64
	MissedSize       int64
	IsParFile        bool
	Hash16k          uint32
	ParSetID         string
	Priority         int
	ExtraPriority    bool

	TotalArticles     int
	SuccessArticles   int
	FailedArticles    int
	MissedArticles    int
	CompletedArticles int

	Partial PartialState

	Paused            bool
	Deleted           bool
	AutoDeleted       bool
	ForceDirectWrite  bool
	FlushLocked       bool
	OutputInitialized bool
	CachedArticles    int

	Articles []*ArticleInfo
	Groups   []string
	Stats    ServerStats
}

// RemainingSize is derived, not stored: size - success - failed, as required
// by the size invariant (§3 invariant 2).
func (f *FileInfo) RemainingSize() int64 {
	return f.Size - f.successSize() - f.failedSize()
}

func (f *FileInfo) successSize() int64 {
	var n int64
	for _, a := range f.Articles {
		if a.Status == ArticleFinished {
			n += a.SegmentSize
		}
	}
	return n
}

func (f *FileInfo) failedSize() int64 {
	var n int64
	for _, a := range f.Articles {
		if a.Status == ArticleFailed {
			n += a.SegmentSize
		}
	}
	return n
}

// Pending is the number of articles not yet in a terminal state (§3 invariant 3).
func (f *FileInfo) Pending() int {
	return f.TotalArticles - f.SuccessArticles - f.FailedArticles
}

// CompletedFile is a fully assembled file that has left the download queue.
type CompletedFile struct {
	ID           int64 // matches the originating FileInfo's id
	Filename     string
	OrigName     string
	Status       CompletedStatus
	CRC          uint32
	IsParFile    bool
	Hash16k      uint32
	ParSetID     string
}

// PostInfo is attached to an NzbInfo while it is in post-processing.
type PostInfo struct {
	Stage           PostStage
	Working         bool
	Stop            bool
	Paused          bool // temp-pause set by the running stage
	PauseReason     string
	StageStartedAt  time.Time
	PausedDuration  time.Duration
}

// PostStage is the Pre/Post-Processor's stage-machine enum (§4.6).
type PostStage int

const (
	PtQueued PostStage = iota
	PtLoadingPars
	PtVerifyingSources
	PtRepairing
	PtVerifyingRepaired
	PtRenaming
	PtUnpacking
	PtMoving
	PtExecutingScript
	PtFinished
)

// NzbInfo is one queued or historical job.
type NzbInfo struct {
	ID int64

	Kind Kind

	Name           string
	OrigFilename   string
	DestDir        string
	FinalDir       string
	CompletedDir   string // directory CompletedFiles currently live in, tracked so a late FinalDir change can relocate them
	Category       string
	QueuedFilename string // the admitted file on disk
	URL            string

	Priority int
	DupeKey   string
	DupeScore int
	DupeMode  DupeMode
	DupeHint  string

	FullContentHash     uint32
	FilteredContentHash uint32

	Size             int64
	SuccessSize      int64
	FailedSize       int64
	ParSize          int64
	ParSuccessSize   int64
	ParFailedSize    int64
	CurrentSize      int64
	DownloadedSize   int64
	DownloadedBytes  int64

	DownloadSec int64
	PostSec     int64
	ParSec      int64
	RepairSec   int64
	UnpackSec   int64

	TotalArticles   int
	SuccessArticles int
	FailedArticles  int
	CurSuccessArts  int
	CurFailedArts   int

	ParStatus         Status
	UnpackStatus      Status
	MoveStatus        Status
	ParRenameStatus   Status
	RarRenameStatus   Status
	DirectRenameStatus Status
	DeleteStatus      Status
	MarkStatus        Status
	URLStatus         Status

	Deleted             bool
	Deleting            bool
	AvoidHistory        bool
	UnpackCleanedUpDisk bool
	HealthPaused        bool
	AddURLPaused        bool
	ManyDupeFiles       bool
	Parking             bool
	ParFull             bool
	ExtraParBlocks      bool
	FeedID              int64

	FileList       []*FileInfo
	CompletedFiles []*CompletedFile
	Parameters     map[string]string
	ScriptStatuses map[string]Status
	Stats          ServerStats
	Messages       []string

	Post *PostInfo

	// Changed marks that this NzbInfo has been mutated since the last full
	// save; cleared by a full save, consulted by the progress delta save.
	Changed bool

	// QueueScriptTime is when a queue-script event was last enqueued for
	// this job, consulted by the Queue-Script Hook's FILE_DOWNLOADED
	// cooldown (EventInterval, §4.10).
	QueueScriptTime time.Time
}

// RemainingSize mirrors FileInfo.RemainingSize at the NzbInfo level (§3 invariant 2).
func (n *NzbInfo) RemainingSize() int64 {
	return n.Size - n.SuccessSize - n.FailedSize
}

// Pending mirrors FileInfo.Pending at the NzbInfo level (§3 invariant 3).
func (n *NzbInfo) Pending() int {
	return n.TotalArticles - n.SuccessArticles - n.FailedArticles
}

// HealthPermille is the fraction of attempted articles that succeeded, out
// of 1000, used by the Duplicate Coordinator's success definition and the
// Pre/Post-Processor's skip-par-check decision (§4.5, §4.6).
func (n *NzbInfo) HealthPermille() int {
	total := n.SuccessArticles + n.FailedArticles
	if total == 0 {
		return 1000
	}
	return n.SuccessArticles * 1000 / total
}

// ReadyForPostProcessing is true iff every FileInfo has left FileList, i.e.
// every file is completed, failed, or deleted after contributing (§3 invariant 4).
func (n *NzbInfo) ReadyForPostProcessing() bool {
	return len(n.FileList) == 0
}

// UrlInfo is a remote-fetch placeholder owned by a history-kind-url record.
type UrlInfo struct {
	URL      string
	Category string
	Priority int
	Status   Status
}

// DupInfo is a compact history record for a dupe-backup collapsed after a
// good mark (§3, §4.5 mark_good).
type DupInfo struct {
	ID         int64
	Name       string
	DupeKey    string
	DupeScore  int
	DupeMode   DupeMode
	Size       int64
	FullHash     uint32
	FilteredHash uint32
	Status     DupInfoStatus
}

// HistoryInfo is a terminated job retained for dedupe and reporting.
type HistoryInfo struct {
	ID             int64
	Kind           HistoryKind
	CompletionTime time.Time

	Nzb *NzbInfo
	URL *UrlInfo
	Dup *DupInfo
}

// Name returns the display name regardless of which kind this record wraps.
func (h *HistoryInfo) Name() string {
	switch h.Kind {
	case HistoryKindNzb:
		if h.Nzb != nil {
			return h.Nzb.Name
		}
	case HistoryKindURL:
		if h.URL != nil {
			return h.URL.URL
		}
	case HistoryKindDup:
		if h.Dup != nil {
			return h.Dup.Name
		}
	}
	return ""
}

// DupeKeyOrName returns the dupe key if set, else the name — the fallback
// used throughout name-or-key comparisons (§4.5).
func (h *HistoryInfo) DupeKeyOrName() (key string, isKey bool) {
	switch h.Kind {
	case HistoryKindNzb:
		if h.Nzb != nil && h.Nzb.DupeKey != "" {
			return h.Nzb.DupeKey, true
		}
		if h.Nzb != nil {
			return h.Nzb.Name, false
		}
	case HistoryKindDup:
		if h.Dup != nil && h.Dup.DupeKey != "" {
			return h.Dup.DupeKey, true
		}
		if h.Dup != nil {
			return h.Dup.Name, false
		}
	}
	return "", false
}
