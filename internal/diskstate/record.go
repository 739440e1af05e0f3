package diskstate

import (
	"bufio"
	"fmt"
	"strconv"
	"time"

	"github.com/javi11/nzbqueued/internal/queue"
)

// writeNzbRecord writes one NzbInfo as a self-delimited block:
//
//	NZB	<scalar fields...>
//	F	<fileinfo id>        (one line per queued FileInfo; detail lives in <id>)
//	C	<completedfile fields>  (one line per CompletedFile)
//	P	<key>	<value>         (one line per Parameter)
//	S	<script name>	<status> (one line per ScriptStatus)
//	END
//
// Only scalar NzbInfo fields and collection *references* are written here;
// FileInfo bodies live in their own per-id file (§4.1, "make each logical
// record its own file", §9).
func writeNzbRecord(w *bufio.Writer, n *queue.NzbInfo) {
	fw := &fieldWriter{}
	fw.int64(n.ID).int(int(n.Kind)).str(n.Name).str(n.OrigFilename).str(n.DestDir).
		str(n.FinalDir).str(n.Category).str(n.QueuedFilename).str(n.URL).
		int(n.Priority).str(n.DupeKey).int(n.DupeScore).int(int(n.DupeMode)).str(n.DupeHint).
		int(int(n.FullContentHash)).int(int(n.FilteredContentHash)).
		size64(n.Size).size64(n.SuccessSize).size64(n.FailedSize).
		size64(n.ParSize).size64(n.ParSuccessSize).size64(n.ParFailedSize).
		size64(n.CurrentSize).size64(n.DownloadedSize).size64(n.DownloadedBytes).
		int64(n.DownloadSec).int64(n.PostSec).int64(n.ParSec).int64(n.RepairSec).int64(n.UnpackSec).
		int(n.TotalArticles).int(n.SuccessArticles).int(n.FailedArticles).
		int(n.CurSuccessArts).int(n.CurFailedArts).
		int(int(n.ParStatus)).int(int(n.UnpackStatus)).int(int(n.MoveStatus)).
		int(int(n.ParRenameStatus)).int(int(n.RarRenameStatus)).int(int(n.DirectRenameStatus)).
		int(int(n.DeleteStatus)).int(int(n.MarkStatus)).int(int(n.URLStatus)).
		bool(n.Deleted).bool(n.Deleting).bool(n.AvoidHistory).bool(n.UnpackCleanedUpDisk).
		bool(n.HealthPaused).bool(n.AddURLPaused).bool(n.ManyDupeFiles).bool(n.Parking).
		bool(n.ParFull).bool(n.ExtraParBlocks).int64(n.FeedID).bool(n.Changed)
	fmt.Fprintln(w, "NZB\t"+fw.line())

	for _, f := range n.FileList {
		fmt.Fprintf(w, "F\t%d\n", f.ID)
	}
	for _, c := range n.CompletedFiles {
		cw := &fieldWriter{}
		cw.int64(c.ID).str(c.Filename).str(c.OrigName).int(int(c.Status)).
			int(int(c.CRC)).bool(c.IsParFile).int(int(c.Hash16k)).str(c.ParSetID)
		fmt.Fprintln(w, "C\t"+cw.line())
	}
	for k, v := range n.Parameters {
		fmt.Fprintf(w, "P\t%s\t%s\n", k, v)
	}
	for name, st := range n.ScriptStatuses {
		fmt.Fprintf(w, "S\t%s\t%d\n", name, int(st))
	}
	fmt.Fprintln(w, "END")
}

// readNzbRecord reads one record written by writeNzbRecord. FileList entries
// are reconstructed as placeholder FileInfos carrying only the id; the
// caller (the coordinator's load path) is expected to call
// Store.LoadFileSummary for each to fill in the rest, matching §4.1's
// "files" fast-path/ per-id split.
func readNzbRecord(r *bufio.Reader) (*queue.NzbInfo, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	tag, rest := splitTag(line)
	if tag != "NZB" {
		return nil, fmt.Errorf("diskstate: expected NZB record, got %q", tag)
	}

	fr := newFieldReader(rest)
	n := &queue.NzbInfo{}
	n.ID = fr.int64()
	n.Kind = queue.Kind(fr.int())
	n.Name = fr.str()
	n.OrigFilename = fr.str()
	n.DestDir = fr.str()
	n.FinalDir = fr.str()
	n.Category = fr.str()
	n.QueuedFilename = fr.str()
	n.URL = fr.str()
	n.Priority = fr.int()
	n.DupeKey = fr.str()
	n.DupeScore = fr.int()
	n.DupeMode = queue.DupeMode(fr.int())
	n.DupeHint = fr.str()
	n.FullContentHash = uint32(fr.int())
	n.FilteredContentHash = uint32(fr.int())
	n.Size = fr.size64()
	n.SuccessSize = fr.size64()
	n.FailedSize = fr.size64()
	n.ParSize = fr.size64()
	n.ParSuccessSize = fr.size64()
	n.ParFailedSize = fr.size64()
	n.CurrentSize = fr.size64()
	n.DownloadedSize = fr.size64()
	n.DownloadedBytes = fr.size64()
	n.DownloadSec = fr.int64()
	n.PostSec = fr.int64()
	n.ParSec = fr.int64()
	n.RepairSec = fr.int64()
	n.UnpackSec = fr.int64()
	n.TotalArticles = fr.int()
	n.SuccessArticles = fr.int()
	n.FailedArticles = fr.int()
	n.CurSuccessArts = fr.int()
	n.CurFailedArts = fr.int()
	n.ParStatus = queue.Status(fr.int())
	n.UnpackStatus = queue.Status(fr.int())
	n.MoveStatus = queue.Status(fr.int())
	n.ParRenameStatus = queue.Status(fr.int())
	n.RarRenameStatus = queue.Status(fr.int())
	n.DirectRenameStatus = queue.Status(fr.int())
	n.DeleteStatus = queue.Status(fr.int())
	n.MarkStatus = queue.Status(fr.int())
	n.URLStatus = queue.Status(fr.int())
	n.Deleted = fr.bool()
	n.Deleting = fr.bool()
	n.AvoidHistory = fr.bool()
	n.UnpackCleanedUpDisk = fr.bool()
	n.HealthPaused = fr.bool()
	n.AddURLPaused = fr.bool()
	n.ManyDupeFiles = fr.bool()
	n.Parking = fr.bool()
	n.ParFull = fr.bool()
	n.ExtraParBlocks = fr.bool()
	n.FeedID = fr.int64()
	n.Changed = fr.bool()
	if fr.err != nil {
		return nil, fmt.Errorf("diskstate: parse NZB record %d: %w", n.ID, fr.err)
	}

	for {
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		tag, rest := splitTag(line)
		switch tag {
		case "F":
			id, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("diskstate: parse F reference: %w", err)
			}
			n.FileList = append(n.FileList, &queue.FileInfo{ID: id, NzbID: n.ID})
		case "C":
			cr := newFieldReader(rest)
			c := &queue.CompletedFile{
				ID:       cr.int64(),
				Filename: cr.str(),
				OrigName: cr.str(),
				Status:   queue.CompletedStatus(cr.int()),
				CRC:      uint32(cr.int()),
				IsParFile: cr.bool(),
				Hash16k:  uint32(cr.int()),
				ParSetID: cr.str(),
			}
			if cr.err != nil {
				return nil, fmt.Errorf("diskstate: parse C record: %w", cr.err)
			}
			n.CompletedFiles = append(n.CompletedFiles, c)
		case "P":
			k, v := splitTag(rest)
			if n.Parameters == nil {
				n.Parameters = make(map[string]string)
			}
			n.Parameters[k] = v
		case "S":
			name, v := splitTag(rest)
			status, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("diskstate: parse S record: %w", err)
			}
			if n.ScriptStatuses == nil {
				n.ScriptStatuses = make(map[string]queue.Status)
			}
			n.ScriptStatuses[name] = queue.Status(status)
		case "END":
			return n, nil
		default:
			return nil, fmt.Errorf("diskstate: unexpected record tag %q", tag)
		}
	}
}

func writeHistoryRecord(w *bufio.Writer, h *queue.HistoryInfo) {
	fmt.Fprintf(w, "HIST\t%d\t%d\t%d\n", h.ID, int(h.Kind), h.CompletionTime.Unix())
	switch h.Kind {
	case queue.HistoryKindNzb:
		if h.Nzb != nil {
			writeNzbRecord(w, h.Nzb)
		}
	case queue.HistoryKindURL:
		if h.URL != nil {
			uw := &fieldWriter{}
			uw.str(h.URL.URL).str(h.URL.Category).int(h.URL.Priority).int(int(h.URL.Status))
			fmt.Fprintln(w, "URL\t"+uw.line())
			fmt.Fprintln(w, "END")
		}
	case queue.HistoryKindDup:
		if h.Dup != nil {
			dw := &fieldWriter{}
			dw.int64(h.Dup.ID).str(h.Dup.Name).str(h.Dup.DupeKey).int(h.Dup.DupeScore).
				int(int(h.Dup.DupeMode)).size64(h.Dup.Size).int(int(h.Dup.FullHash)).
				int(int(h.Dup.FilteredHash)).int(int(h.Dup.Status))
			fmt.Fprintln(w, "DUP\t"+dw.line())
			fmt.Fprintln(w, "END")
		}
	}
}

func readHistoryRecord(r *bufio.Reader) (*queue.HistoryInfo, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	tag, rest := splitTag(line)
	if tag != "HIST" {
		return nil, fmt.Errorf("diskstate: expected HIST record, got %q", tag)
	}

	hr := newFieldReader(rest)
	h := &queue.HistoryInfo{
		ID:   hr.int64(),
		Kind: queue.HistoryKind(hr.int()),
	}
	h.CompletionTime = time.Unix(hr.int64(), 0)
	if hr.err != nil {
		return nil, fmt.Errorf("diskstate: parse HIST record: %w", hr.err)
	}

	switch h.Kind {
	case queue.HistoryKindNzb:
		n, err := readNzbRecord(r)
		if err != nil {
			return nil, err
		}
		h.Nzb = n
	case queue.HistoryKindURL:
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		tag, rest := splitTag(line)
		if tag != "URL" {
			return nil, fmt.Errorf("diskstate: expected URL record, got %q", tag)
		}
		ur := newFieldReader(rest)
		h.URL = &queue.UrlInfo{
			URL:      ur.str(),
			Category: ur.str(),
			Priority: ur.int(),
			Status:   queue.Status(ur.int()),
		}
		if ur.err != nil {
			return nil, fmt.Errorf("diskstate: parse URL record: %w", ur.err)
		}
		if _, err := readLine(r); err != nil { // consume END
			return nil, err
		}
	case queue.HistoryKindDup:
		line, err := readLine(r)
		if err != nil {
			return nil, err
		}
		tag, rest := splitTag(line)
		if tag != "DUP" {
			return nil, fmt.Errorf("diskstate: expected DUP record, got %q", tag)
		}
		dr := newFieldReader(rest)
		h.Dup = &queue.DupInfo{
			ID:           dr.int64(),
			Name:         dr.str(),
			DupeKey:      dr.str(),
			DupeScore:    dr.int(),
			DupeMode:     queue.DupeMode(dr.int()),
			Size:         dr.size64(),
			FullHash:     uint32(dr.int()),
			FilteredHash: uint32(dr.int()),
			Status:       queue.DupInfoStatus(dr.int()),
		}
		if dr.err != nil {
			return nil, fmt.Errorf("diskstate: parse DUP record: %w", dr.err)
		}
		if _, err := readLine(r); err != nil { // consume END
			return nil, err
		}
	}

	return h, nil
}

func splitTag(line string) (tag, rest string) {
	for i := 0; i < len(line); i++ {
		if line[i] == '\t' {
			return line[:i], line[i+1:]
		}
	}
	return line, ""
}
