package execrunner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/javi11/nzbqueued/internal/postprocess"
	"github.com/javi11/nzbqueued/internal/queue"
)

func TestPostScriptExitCode(t *testing.T) {
	cases := map[int]postprocess.ScriptOutcome{
		93:  postprocess.ScriptSuccess,
		94:  postprocess.ScriptError,
		95:  postprocess.ScriptNone,
		91:  postprocess.ScriptRequestParCheckCurrent,
		92:  postprocess.ScriptRequestParCheckAll,
		0:   postprocess.ScriptUnknown,
		1:   postprocess.ScriptUnknown,
		255: postprocess.ScriptUnknown,
	}
	for code, want := range cases {
		assert.Equal(t, want, postScriptExitCode(code), "exit code %d", code)
	}
}

func TestMainPar2File(t *testing.T) {
	n := &queue.NzbInfo{
		CompletedFiles: []*queue.CompletedFile{
			{Filename: "movie.part01.rar"},
			{Filename: "movie.vol00+01.par2", IsParFile: true},
			{Filename: "movie.vol01+02.par2", IsParFile: true},
		},
	}
	assert.Equal(t, "movie.vol00+01.par2", mainPar2File(n))
}

func TestMainPar2FileNoneFound(t *testing.T) {
	n := &queue.NzbInfo{CompletedFiles: []*queue.CompletedFile{{Filename: "movie.mkv"}}}
	assert.Equal(t, "", mainPar2File(n))
}

func TestFirstArchiveFile(t *testing.T) {
	cases := []struct {
		name  string
		files []string
		want  string
	}{
		{"rar", []string{"readme.txt", "release.rar"}, "release.rar"},
		{"zip", []string{"release.zip"}, "release.zip"},
		{"split-rar", []string{"release.r00", "release.r01"}, "release.r00"},
		{"none", []string{"movie.mkv"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := &queue.NzbInfo{}
			for _, f := range tc.files {
				n.CompletedFiles = append(n.CompletedFiles, &queue.CompletedFile{Filename: f})
			}
			assert.Equal(t, tc.want, firstArchiveFile(n))
		})
	}
}

func TestBytesContainsFold(t *testing.T) {
	assert.True(t, bytesContainsFold("Enter password (will not be echoed):", "enter password"))
	assert.True(t, bytesContainsFold("WRONG PASSWORD?", "wrong password"))
	assert.False(t, bytesContainsFold("extracting archive...", "wrong password"))
}

func TestScriptRunnerResolve(t *testing.T) {
	r := &ScriptRunner{Dirs: []string{t.TempDir(), t.TempDir()}}
	assert.Equal(t, "/abs/script.sh", r.resolve("/abs/script.sh"))

	// Relative name with no matching file in any Dirs falls back to the bare name.
	assert.Equal(t, "missing.sh", r.resolve("missing.sh"))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
}
