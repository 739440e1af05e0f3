package queueedit

import (
	"sort"
	"strings"

	"github.com/javi11/nzbqueued/internal/queue"
)

// editPausePars implements "pause-all-pars" / "pause-extra-pars" at either
// scope (§4.7). Group scope expands to every file of the named groups.
func (e *Editor) editPausePars(req Request) (bool, error) {
	e.model.Lock()
	defer e.model.Unlock()

	files := e.resolveFilesLocked(req)
	if len(files) == 0 {
		return false, nil
	}

	pausePars(files, req.Action == ActionPauseExtraPars)
	return true, nil
}

// pausePars applies QueueEditor::PausePars's strategy to one set of files
// (which may span several groups when called at group scope): when
// extraOnly is false, every par2 file is paused. Otherwise, files with
// ".vol" in their name are treated as recovery-block volumes and
// non-"vol" par2 files are treated as the base par set; if any base
// par2 files exist, all volumes are paused (the base set alone can
// verify), otherwise every volume but the smallest is paused (so at
// least one recovery block stays downloadable).
func pausePars(files []*queue.FileInfo, extraOnly bool) {
	var bases, vols []*queue.FileInfo
	for _, f := range files {
		if !f.IsParFile {
			continue
		}
		lower := strings.ToLower(f.Filename)
		if !extraOnly {
			f.Paused = true
			continue
		}
		if strings.Contains(lower, ".vol") {
			vols = append(vols, f)
		} else {
			bases = append(bases, f)
		}
	}

	if !extraOnly {
		return
	}

	if len(bases) > 0 {
		for _, f := range vols {
			f.Paused = true
		}
		return
	}

	if len(vols) == 0 {
		return
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].Size < vols[j].Size })
	for _, f := range vols[1:] {
		f.Paused = true
	}
}
