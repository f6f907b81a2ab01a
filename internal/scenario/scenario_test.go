package scenario_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/crankloop/internal/lane"
	"github.com/torosent/crankloop/internal/recorder"
	"github.com/torosent/crankloop/internal/sample"
	"github.com/torosent/crankloop/internal/scenario"
	"github.com/torosent/crankloop/internal/testrunner"
)

const shopScenario = `
default-address: %s
headers:
  X-Client: crankloop
timeout: 5s
variables:
  greeting: hello
feeders:
  - name: users
    path: users.csv
    loop: false
suites:
  - name: Shop
    package: tests
    setup:
      - request:
          url: /ping
    tests:
      - name: test_login
        feeder: users
        steps:
          - request:
              method: POST
              url: /login
              body: '{"user":"{{user}}"}'
              assert:
                - status: 200
                  contains: ["{{user}}"]
              extract:
                - var: token
                  jsonpath: $.token
          - transaction:
              name: browse
              steps:
                - request:
                    url: /items?token={{token}}
                    headers:
                      X-Greeting: "{{greeting}}"
                    assert:
                      - ok: true
                        header: Content-Type
                        header-value: application/json
                      - jsonpath: $.owner
                        equals: "{{user}}"
          - think-time: 1ms
          - set-variables:
              last: "{{user}}"
      - name: test_missing
        steps:
          - request:
              url: /missing
              assert:
                - ok: true
`

func writeScenario(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func shopServer(t *testing.T, pings *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) { pings.Add(1) })
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			User string `json:"user"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		user := body.User
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"token":"tok-%s","user":%q}`, user, user)
	})
	mux.HandleFunc("/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "crankloop" || r.Header.Get("X-Greeting") != "hello" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"owner":%q}`, strings.TrimPrefix(r.URL.Query().Get("token"), "tok-"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type noHooks struct{}

func (noHooks) BeforeTest(*lane.Context, testrunner.Unit) {}
func (noHooks) StartTest(*lane.Context, testrunner.Unit) {}
func (noHooks) StopTest(*lane.Context, testrunner.Unit, testrunner.Result) {}
func (noHooks) AfterTest(*lane.Context, testrunner.Unit) {}

func TestScenarioUnitsRunAgainstServer(t *testing.T) {
	var pings atomic.Int64
	srv := shopServer(t, &pings)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.csv"), []byte("user\nann\nbob\n"), 0o644))
	scn, err := scenario.Load(writeScenario(t, dir, fmt.Sprintf(shopScenario, srv.URL)))
	require.NoError(t, err)

	units, err := scn.Units(scenario.CompileOptions{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "tests.shop.Shop.test_login", units[0].ID())
	assert.Equal(t, "tests.shop.Shop.test_missing", units[1].ID())

	runner := testrunner.NewRunner(zaptest.NewLogger(t))
	lc := lane.New(1, 2, zaptest.NewLogger(t))

	from := lc.Recorder.Now()
	res := runner.Run(context.Background(), units[0], lc, noHooks{})
	require.Equal(t, sample.StatusPassed, res.Status, res.Trace)
	assert.EqualValues(t, 1, pings.Load())
	last, _ := lc.Get("last")
	assert.Equal(t, "bob", last, "lane 1 of 2 reads the second row first")

	root := sample.New("Shop", "test_login", sample.StatusPassed)
	_, err = sample.NewExtractor().Parse(lc.Recorder.PopEvents(from, lc.Recorder.Now()), root)
	require.NoError(t, err)
	require.Len(t, root.Children, 3, "ping, login and the browse transaction")
	assert.Equal(t, "browse", root.Children[2].TestCase)
	assert.Len(t, root.Children[2].Children, 1)

	res = runner.Run(context.Background(), units[0], lc, noHooks{})
	assert.True(t, res.Stopped(), "feeder without loop is exhausted after one row for this lane")

	res = runner.Run(context.Background(), units[1], lc, noHooks{})
	assert.Equal(t, sample.StatusFailed, res.Status)
	var assertion *lane.AssertionError
	require.True(t, errors.As(res.Err, &assertion))
	assert.Equal(t, "assert_ok", assertion.Name)
}

func TestScenarioTransportErrorBreaksTest(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	scn, err := scenario.Parse([]byte(fmt.Sprintf(`
default-address: %s
timeout: 1s
suites:
  - name: Down
    tests:
      - name: test_down
        steps:
          - request: {url: /}
`, addr)))
	require.NoError(t, err)
	units, err := scn.Units(scenario.CompileOptions{})
	require.NoError(t, err)
	assert.Equal(t, "scenario.Down.test_down", units[0].ID())

	lc := lane.New(0, 1, nil)
	res := testrunner.NewRunner(nil).Run(context.Background(), units[0], lc, noHooks{})
	assert.Equal(t, sample.StatusBroken, res.Status)

	events := lc.Recorder.PopEvents(time.Time{}, time.Now().Add(time.Hour))
	require.Len(t, events, 1)
	assert.Equal(t, recorder.FailedStatusCode, events[0].(recorder.Request).Response.StatusCode)
}

func TestParseRejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no suites", "variables: {a: b}\n", "at least one suite"},
		{"unknown key", "suites: []\nbogus: 1\n", "bogus"},
		{"empty step", "suites:\n  - name: S\n    tests:\n      - name: t\n        steps: [{}]\n", "exactly one of"},
		{"two kinds", "suites:\n  - name: S\n    tests:\n      - name: t\n        steps:\n          - request: {url: /}\n            think-time: 1s\n", "exactly one of"},
		{"unknown feeder", "suites:\n  - name: S\n    tests:\n      - name: t\n        feeder: nope\n        steps: [{request: {url: /}}]\n", "unknown feeder"},
		{"bad extractor", "suites:\n  - name: S\n    tests:\n      - name: t\n        steps:\n          - request:\n              url: /\n              extract: [{var: x}]\n", "exactly one of jsonpath or regex"},
		{"feeder format", "feeders: [{name: f, path: d.xml, format: xml}]\nsuites:\n  - name: S\n    tests: [{name: t}]\n", "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := scenario.Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestUnitsReportMissingFeederFile(t *testing.T) {
	dir := t.TempDir()
	scn, err := scenario.Load(writeScenario(t, dir, `
feeders: [{name: users, path: absent.csv}]
suites:
  - name: S
    tests: [{name: t, feeder: users}]
`))
	require.NoError(t, err)
	_, err = scn.Units(scenario.CompileOptions{})
	assert.ErrorContains(t, err, "feeder users")
}
