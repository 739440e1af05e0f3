package queuescript

import (
	"fmt"
	"strconv"

	"github.com/javi11/nzbqueued/internal/queue"
	"github.com/javi11/nzbqueued/internal/scriptenv"
)

// BuildEnv renders the NZBNA_* and NZBPR_* environment variables a
// queue-script receives (QueueScriptController::PrepareParams, §4.10, §6).
func BuildEnv(nzb *queue.NzbInfo, event Event) []string {
	out := []string{
		"NZBNA_NZBNAME=" + nzb.Name,
		"NZBNA_FILENAME=" + nzb.QueuedFilename,
		"NZBNA_DIRECTORY=" + nzb.DestDir,
		"NZBNA_FINALDIR=" + nzb.FinalDir,
		"NZBNA_CATEGORY=" + nzb.Category,
		"NZBNA_PRIORITY=" + strconv.Itoa(nzb.Priority),
		"NZBNA_NZBID=" + strconv.FormatInt(nzb.ID, 10),
		"NZBNA_LASTID=" + strconv.FormatInt(nzb.ID, 10), // deprecated alias, kept for old scripts
		"NZBNA_EVENT=" + event.String(),
		"NZBNA_URL=" + nzb.URL,
		"NZBNA_DUPEKEY=" + nzb.DupeKey,
		"NZBNA_DUPESCORE=" + strconv.Itoa(nzb.DupeScore),
		"NZBNA_DUPEMODE=" + dupeModeName(nzb.DupeMode),
		"NZBNA_DELETESTATUS=" + statusName(nzb.DeleteStatus),
		"NZBNA_MARKSTATUS=" + statusName(nzb.MarkStatus),
		"NZBNA_URLSTATUS=" + statusName(nzb.URLStatus),
		"NZBNA_TOTALSTATUS=" + statusName(totalStatus(nzb)),
	}
	out = append(out, scriptenv.EnvParameterVars(nzb.Parameters)...)
	return out
}

func dupeModeName(m queue.DupeMode) string {
	switch m {
	case queue.DupeModeAll:
		return "ALL"
	case queue.DupeModeForce:
		return "FORCE"
	default:
		return "SCORE"
	}
}

// statusName renders the shared Status enum the way nzbget renders its
// distinct per-field name arrays (deleteStatusName/markStatusName/
// urlStatusName in QueueScript.cpp) — one function instead of three since
// this model collapses those fields onto a single enum.
func statusName(s queue.Status) string {
	switch s {
	case queue.StatusNone:
		return "NONE"
	case queue.StatusSuccess:
		return "SUCCESS"
	case queue.StatusFailure:
		return "FAILURE"
	case queue.StatusSkipped:
		return "SKIPPED"
	case queue.StatusRepairPossible:
		return "REPAIR_POSSIBLE"
	case queue.StatusDupe:
		return "DUPE"
	case queue.StatusManual:
		return "MANUAL"
	case queue.StatusGood:
		return "GOOD"
	case queue.StatusBad:
		return "BAD"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// totalStatus folds the per-stage statuses into nzbget's single aggregate
// "total status" used for NZBNA_TOTALSTATUS: any failure wins, else success
// if at least one stage reports success (or good), else NONE.
func totalStatus(nzb *queue.NzbInfo) queue.Status {
	stages := []queue.Status{
		nzb.ParStatus, nzb.UnpackStatus, nzb.MoveStatus,
		nzb.ParRenameStatus, nzb.RarRenameStatus, nzb.DirectRenameStatus,
	}
	sawSuccess := false
	for _, st := range stages {
		switch st {
		case queue.StatusFailure:
			return queue.StatusFailure
		case queue.StatusSuccess, queue.StatusGood:
			sawSuccess = true
		}
	}
	if sawSuccess {
		return queue.StatusSuccess
	}
	return queue.StatusNone
}
