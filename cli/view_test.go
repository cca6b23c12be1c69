package cli

import (
	"testing"

	"github.com/perfgo/falseshare/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearViewEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FALSESHARE_FORMAT", "")
	t.Setenv("FALSESHARE_HISTORY_DIR", "")
}

func TestViewArguments(t *testing.T) {
	clearViewEnv(t)

	tests := []struct {
		name       string
		in         []string
		wantOpts   viewOptions
		wantID     string
		wantPprof  []string
		wantErrMsg string
	}{
		{
			name:     "no arguments",
			in:       nil,
			wantOpts: viewOptions{format: report.FormatTable},
			wantID:   "0",
		},
		{
			name:      "json with negative index and pprof flag",
			in:        []string{"--format", "json", "-1", "--", "-top"},
			wantOpts:  viewOptions{format: report.FormatJSON},
			wantID:    "-1",
			wantPprof: []string{"-top"},
		},
		{
			name:      "history dir with id and pprof flag",
			in:        []string{"--history-dir=d", "abc123", "-list=main"},
			wantOpts:  viewOptions{format: report.FormatTable, historyDir: "d"},
			wantID:    "abc123",
			wantPprof: []string{"-list=main"},
		},
		{
			name:     "short pprof format only",
			in:       []string{"-f", "pprof"},
			wantOpts: viewOptions{format: report.FormatPprof},
			wantID:   "0",
		},
		{
			name:      "all options before an index",
			in:        []string{"--format=markdown", "--history-dir", "runs", "-2"},
			wantOpts:  viewOptions{format: report.FormatMarkdown, historyDir: "runs"},
			wantID:    "-2",
			wantPprof: []string{},
		},
		{
			name:      "dash dash selects the last run",
			in:        []string{"-f", "json", "--", "-http=:8080"},
			wantOpts:  viewOptions{format: report.FormatJSON},
			wantID:    "0",
			wantPprof: []string{"-http=:8080"},
		},
		{
			name:      "pprof flag without id",
			in:        []string{"-top", "-nodecount=5"},
			wantOpts:  viewOptions{format: report.FormatTable},
			wantID:    "0",
			wantPprof: []string{"-top", "-nodecount=5"},
		},
		{
			name:      "options after the id go to pprof",
			in:        []string{"deadbeef", "--format", "json"},
			wantOpts:  viewOptions{format: report.FormatTable},
			wantID:    "deadbeef",
			wantPprof: []string{"--format", "json"},
		},
		{
			name:      "only the first dash dash is removed",
			in:        []string{"0", "--", "--", "-top"},
			wantOpts:  viewOptions{format: report.FormatTable},
			wantID:    "0",
			wantPprof: []string{"--", "-top"},
		},
		{
			name:       "format without value",
			in:         []string{"--format"},
			wantErrMsg: "flag --format needs a value",
		},
		{
			name:       "unknown format",
			in:         []string{"-f=csv", "0"},
			wantErrMsg: "unknown format",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, rest, err := parseViewOptions(tt.in)
			if tt.wantErrMsg != "" {
				require.ErrorContains(t, err, tt.wantErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOpts, opts)

			id, pprofArgs := parseViewArgs(rest)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantPprof, pprofArgs)
		})
	}
}

func TestViewArgumentsEnv(t *testing.T) {
	t.Setenv("FALSESHARE_FORMAT", "markdown")
	t.Setenv("FALSESHARE_HISTORY_DIR", "/var/lib/falseshare")

	opts, rest, err := parseViewOptions([]string{"-1"})
	require.NoError(t, err)
	assert.Equal(t, viewOptions{format: report.FormatMarkdown, historyDir: "/var/lib/falseshare"}, opts)
	assert.Equal(t, []string{"-1"}, rest)

	opts, _, err = parseViewOptions([]string{"--format", "json", "--history-dir", "local"})
	require.NoError(t, err)
	assert.Equal(t, viewOptions{format: report.FormatJSON, historyDir: "local"}, opts, "flags override the environment")

	t.Setenv("FALSESHARE_FORMAT", "yaml")
	_, _, err = parseViewOptions(nil)
	require.ErrorContains(t, err, "unknown format")
}

func TestRemoveFirstDashDash(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "empty", in: []string{}, want: []string{}},
		{name: "leading", in: []string{"--", "-top"}, want: []string{"-top"}},
		{name: "not leading", in: []string{"-top", "--"}, want: []string{"-top", "--"}},
		{name: "twice", in: []string{"--", "--"}, want: []string{"--"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, removeFirstDashDash(tt.in))
		})
	}
}
