package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelci/kcidb/internal/db/registry"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, stdin io.Reader, args ...string) cliResult {
	t.Helper()
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	var stdout, stderr bytes.Buffer
	code := Execute(context.Background(), args, stdin, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// seeded returns a json database spec holding testdata/report.json.
func seeded(t *testing.T) string {
	t.Helper()
	spec := "json:" + filepath.Join(t.TempDir(), "kcidb.json")
	r := runCLI(t, nil, "-d", spec, "init")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	r = runCLI(t, nil, "-d", spec, "load", filepath.Join("testdata", "report.json"))
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "Loaded 1 documents (5 objects)\n", r.stdout)
	return spec
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func queryIDs(t *testing.T, stdout string) map[string][]string {
	t.Helper()
	var resp struct {
		Data map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	out := map[string][]string{}
	for _, key := range []string{"checkouts", "builds", "tests"} {
		var objs []map[string]any
		if raw, ok := resp.Data[key]; ok {
			require.NoError(t, json.Unmarshal(raw, &objs))
		}
		for _, o := range objs {
			out[key] = append(out[key], o["id"].(string))
		}
	}
	return out
}

func TestDumpGolden(t *testing.T) {
	spec := seeded(t)
	r := runCLI(t, nil, "-d", spec, "dump")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	golden(t).Assert(t, "dump", []byte(r.stdout))
}

func TestQueryPatterns(t *testing.T) {
	spec := seeded(t)
	tests := []struct {
		name string
		args []string
		want map[string][]string
	}{
		{
			name: "checkout and builds",
			args: []string{"checkout[C]>"},
			want: map[string][]string{"checkouts": {"C"}, "builds": {"B1", "B2"}},
		},
		{
			name: "test and ancestors",
			args: []string{"test[T1]<"},
			want: map[string][]string{"checkouts": {"C"}, "builds": {"B1"}, "tests": {"T1"}},
		},
		{
			name: "ids with parents",
			args: []string{"-t", "T2", "--parents"},
			want: map[string][]string{"checkouts": {"C"}, "builds": {"B1"}, "tests": {"T2"}},
		},
		{
			name: "ids with children",
			args: []string{"-c", "C", "--children"},
			want: map[string][]string{"checkouts": {"C"}, "builds": {"B1", "B2"}, "tests": {"T1", "T2"}},
		},
		{
			name: "limited wildcard",
			args: []string{"build%", "--limit", "build=1"},
			want: map[string][]string{"builds": {"B1"}},
		},
		{
			name: "nothing",
			args: nil,
			want: map[string][]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-d", spec, "--format", "json", "query"}, tt.args...)
			r := runCLI(t, nil, args...)
			require.Equal(t, ExitSuccess, r.code, r.stderr)
			assert.Equal(t, tt.want, queryIDs(t, r.stdout))
		})
	}
}

func TestQueryErrors(t *testing.T) {
	spec := seeded(t)
	tests := []struct {
		name string
		args []string
		code int
		want string
	}{
		{"syntax", []string{"checkout[C"}, ExitCommandError, "PatternSyntaxError"},
		{"unknown type", []string{"commit[x]"}, ExitCommandError, "UnknownTypeError"},
		{"bad limit", []string{"--limit", "build"}, ExitCommandError, "want TYPE=N"},
		{"bad limit type", []string{"--limit", "commit=3"}, ExitCommandError, "unknown object type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"-d", spec, "query"}, tt.args...)
			r := runCLI(t, nil, args...)
			assert.Equal(t, tt.code, r.code)
			assert.Contains(t, r.stderr, tt.want)
		})
	}
}

func TestQueryUninitialized(t *testing.T) {
	spec := "json:" + filepath.Join(t.TempDir(), "absent.json")
	r := runCLI(t, nil, "-d", spec, "query", "checkout%")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "NotFound")
}

func TestPatternHelpGolden(t *testing.T) {
	r := runCLI(t, nil, "query", "--pattern-help")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	golden(t).Assert(t, "pattern_help", []byte(r.stdout))
}

func TestDatabaseHelp(t *testing.T) {
	r := runCLI(t, nil, "--database-help")
	assert.Equal(t, ExitSuccess, r.code)
	assert.Equal(t, registry.Help(), r.stdout)
	assert.Empty(t, r.stderr)

	r = runCLI(t, nil, "dump", "--database-help")
	assert.Equal(t, ExitSuccess, r.code)
	assert.Equal(t, registry.Help(), r.stdout)
}

func TestUnknownDriver(t *testing.T) {
	r := runCLI(t, nil, "-d", "oracle:kcidb", "dump")
	assert.Equal(t, ExitCommandError, r.code)
	assert.Contains(t, r.stderr, "UnknownDriverError")
}

func TestLoadReferentialError(t *testing.T) {
	spec := seeded(t)
	doc := `{"version":{"major":4,"minor":2},"tests":[{"id":"T9","build_id":"B9","origin":"test"}]}`
	r := runCLI(t, strings.NewReader(doc), "-d", spec, "load")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "ReferentialError")
}

func TestLoadInvalidDocument(t *testing.T) {
	spec := seeded(t)
	doc := `{"version":{"major":4,"minor":2},"checkouts":[{"id":"X"}]}`
	r := runCLI(t, strings.NewReader(doc), "-d", spec, "--format", "json", "load")
	assert.Equal(t, ExitFailure, r.code)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(r.stderr), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "InvalidDocument", resp.Error.Code)
}

func TestSchemaCommands(t *testing.T) {
	spec := "sqlite:" + filepath.Join(t.TempDir(), "kcidb.sqlite3")

	r := runCLI(t, nil, "-d", spec, "init", "--version", "4.1")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "Database initialized at schema 4.1\n", r.stdout)

	r = runCLI(t, nil, "-d", spec, "schema")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "4.1 (latest 4.2)\n", r.stdout)

	r = runCLI(t, nil, "-d", spec, "init")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "AlreadyExists")

	r = runCLI(t, nil, "-d", spec, "schema", "upgrade")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, "Schema upgraded to 4.2\n", r.stdout)

	r = runCLI(t, nil, "-d", spec, "--format", "json", "schema")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.JSONEq(t, `{"status":"ok","data":{"version":{"major":4,"minor":2},"current":{"major":4,"minor":2}}}`, r.stdout)

	r = runCLI(t, nil, "-d", spec, "schema", "upgrade", "banana")
	assert.Equal(t, ExitCommandError, r.code)

	r = runCLI(t, nil, "-d", spec, "cleanup")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	r = runCLI(t, nil, "-d", spec, "schema")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "Uninitialized")
}

func TestMuxLoad(t *testing.T) {
	dir := t.TempDir()
	spec := "mux:sqlite:" + filepath.Join(dir, "a.sqlite3") + " bolt:" + filepath.Join(dir, "b.bolt") + " null"
	require.Equal(t, ExitSuccess, runCLI(t, nil, "-d", spec, "init").code)

	r := runCLI(t, nil, "-d", spec, "load", filepath.Join("testdata", "report.json"))
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = runCLI(t, nil, "-d", "bolt:"+filepath.Join(dir, "b.bolt"), "dump")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	golden(t).Assert(t, "dump", []byte(r.stdout))
}

func TestIngest(t *testing.T) {
	spec := seeded(t)
	stream := strings.Join([]string{
		`{"version":{"major":4,"minor":2},"builds":[{"id":"B3","checkout_id":"C","origin":"test"}]}`,
		`{"version":{"major":4,"minor":2},"checkouts":[{"id":"X"}]}`,
		`{"version":{"major":4,"minor":2},"tests":[{"id":"T3","build_id":"B3","origin":"test"}]}`,
	}, "\n")

	r := runCLI(t, strings.NewReader(stream), "-d", spec, "--format", "json", "ingest", "-m", "inf")
	assert.Equal(t, ExitFailure, r.code)

	var resp struct {
		Data IngestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	assert.Equal(t, 3, resp.Data.Messages)
	assert.Equal(t, 2, resp.Data.Loaded)
	assert.Equal(t, 1, resp.Data.Failed)
	assert.Contains(t, r.stderr, "1 of 3 messages rejected")

	r = runCLI(t, nil, "-d", spec, "--format", "json", "query", "test[T3]<")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, map[string][]string{"checkouts": {"C"}, "builds": {"B3"}, "tests": {"T3"}}, queryIDs(t, r.stdout))
}

func TestIngestDefaultsToOneMessage(t *testing.T) {
	spec := seeded(t)
	stream := `{"version":{"major":4,"minor":2},"builds":[{"id":"B3","checkout_id":"C","origin":"test"}]}
{"version":{"major":4,"minor":2},"builds":[{"id":"B4","checkout_id":"C","origin":"test"}]}`

	r := runCLI(t, strings.NewReader(stream), "-d", spec, "ingest")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Ingested 1 messages, 1 loaded, 0 failed")
}

func TestIngestFlagValidation(t *testing.T) {
	for _, args := range [][]string{
		{"ingest", "--timeout", "-1"},
		{"ingest", "--timeout", "soon"},
		{"ingest", "-m", "-1"},
		{"ingest", "-m", "many"},
	} {
		r := runCLI(t, nil, append([]string{"-d", "memory"}, args...)...)
		assert.Equal(t, ExitCommandError, r.code, "%v", args)
	}
}

func TestParseSecondsAndCount(t *testing.T) {
	d, err := parseSeconds("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1.5s", d.String())
	d, err = parseSeconds("inf")
	require.NoError(t, err)
	assert.Zero(t, d)

	n, err := parseCount("12")
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	n, err = parseCount("0")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = parseCount("inf")
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}

func TestIngestZeroMessages(t *testing.T) {
	spec := seeded(t)
	stream := `{"version":{"major":4,"minor":2},"builds":[{"id":"B3","checkout_id":"C","origin":"test"}]}`

	r := runCLI(t, strings.NewReader(stream), "-d", spec, "ingest", "-m", "0")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stdout, "Ingested 0 messages")

	r = runCLI(t, nil, "-d", spec, "--format", "json", "query", "build[B3]")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Empty(t, queryIDs(t, r.stdout))
}

func TestIngestVerboseProgress(t *testing.T) {
	spec := seeded(t)
	stream := `{"version":{"major":4,"minor":2},"builds":[{"id":"B3","checkout_id":"C","origin":"test"}]}
{"version":{"major":4,"minor":2},"checkouts":[{"id":"X"}]}`

	r := runCLI(t, strings.NewReader(stream), "-v", "-d", spec, "ingest", "-m", "inf")
	assert.Equal(t, ExitFailure, r.code)
	assert.Contains(t, r.stderr, "message 0 loaded (1 objects)")
	assert.Contains(t, r.stderr, "message 1 rejected")
}

func TestDrivers(t *testing.T) {
	r := runCLI(t, nil, "drivers")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	for _, e := range registry.Entries() {
		assert.Contains(t, r.stdout, e.Name)
	}

	r = runCLI(t, nil, "--format", "json", "drivers")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	var resp struct {
		Data []DriverInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	require.Len(t, resp.Data, len(registry.Entries()))
	assert.Equal(t, "null", resp.Data[6].Name)
	assert.Equal(t, "write", resp.Data[6].Capabilities)
}

func TestConfigFileAndMetrics(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "kcidb.prom")
	cfg := filepath.Join(dir, "kcidb.yaml")
	body := "database: memory\nmetrics:\n  textfile: " + metrics + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))

	r := runCLI(t, nil, "--config", cfg, "init")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), `kcidb_db_calls_total{code="ok",driver="memory",op="init"}`)
}

func TestInvalidConfig(t *testing.T) {
	cfg := filepath.Join(t.TempDir(), "kcidb.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  level: loud\n"), 0o644))

	r := runCLI(t, nil, "--config", cfg, "dump")
	assert.Equal(t, ExitCommandError, r.code)
	assert.Contains(t, r.stderr, "invalid configuration")
}

func TestUsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"--bogus", "dump"},
		{"frobnicate"},
		{"-d", "memory", "dump", "extra"},
		{"-d", "memory", "schema", "upgrade", "4.1", "4.2"},
	} {
		r := runCLI(t, nil, args...)
		assert.Equal(t, ExitCommandError, r.code, "%v", args)
		assert.Contains(t, r.stderr, "Error [Error]", "%v", args)
	}
}

func TestLoadVerboseProgress(t *testing.T) {
	spec := "json:" + filepath.Join(t.TempDir(), "kcidb.json")
	require.Equal(t, ExitSuccess, runCLI(t, nil, "-d", spec, "init").code)

	report := filepath.Join("testdata", "report.json")
	r := runCLI(t, nil, "-v", "-d", spec, "load", report)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Contains(t, r.stderr, report+" document 0 loaded (5 objects)")

	r = runCLI(t, nil, "-d", spec, "load", report)
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.NotContains(t, r.stderr, "document 0 loaded")
}

func TestDumpSplitReports(t *testing.T) {
	spec := seeded(t)
	r := runCLI(t, nil, "-d", spec, "dump", "-o", "2", "--indent", "0", "--seq")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	records := strings.Split(r.stdout, "\x1e")
	require.Len(t, records, 4)
	assert.Empty(t, records[0])

	var counts []int
	for _, rec := range records[1:] {
		assert.Equal(t, 1, strings.Count(rec, "\n"), "one line per report")
		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(rec), &doc))
		assert.JSONEq(t, `{"major":4,"minor":2}`, string(doc["version"]))
		n := 0
		for _, key := range []string{"checkouts", "builds", "tests"} {
			var objs []any
			if raw, ok := doc[key]; ok {
				require.NoError(t, json.Unmarshal(raw, &objs))
			}
			n += len(objs)
		}
		counts = append(counts, n)
	}
	assert.Equal(t, []int{2, 2, 1}, counts)
}

func TestQuerySplitJSON(t *testing.T) {
	spec := seeded(t)
	r := runCLI(t, nil, "-d", spec, "--format", "json", "query", "checkout[C]>", "-o", "1")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	var resp struct {
		Data []map[string]json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &resp))
	require.Len(t, resp.Data, 3)
	assert.Contains(t, resp.Data[0], "checkouts")
	assert.Contains(t, resp.Data[1], "builds")
	assert.Contains(t, resp.Data[2], "builds")
}

func TestQueryIndent(t *testing.T) {
	spec := seeded(t)
	r := runCLI(t, nil, "-d", spec, "query", "checkout[C]", "--indent", "4")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.True(t, strings.HasPrefix(r.stdout, "{\n    \"version\": {\n        \"major\": 4,"), r.stdout)
}

func TestSplitFlagValidation(t *testing.T) {
	for _, args := range [][]string{
		{"dump", "--indent", "-1"},
		{"dump", "-o", "-3"},
		{"query", "checkout%", "--objects-per-report", "-1"},
	} {
		r := runCLI(t, nil, append([]string{"-d", "memory"}, args...)...)
		assert.Equal(t, ExitCommandError, r.code, "%v", args)
	}
}

func TestQueryIDsNormalized(t *testing.T) {
	spec := seeded(t)
	doc := `{"version":{"major":4,"minor":2},"checkouts":[{"id":"caf\u00e9","origin":"test"}]}`
	r := runCLI(t, strings.NewReader(doc), "-d", spec, "load")
	require.Equal(t, ExitSuccess, r.code, r.stderr)

	r = runCLI(t, nil, "-d", spec, "--format", "json", "query", "-c", "cafe\u0301")
	require.Equal(t, ExitSuccess, r.code, r.stderr)
	assert.Equal(t, map[string][]string{"checkouts": {"caf\u00e9"}}, queryIDs(t, r.stdout))
}
