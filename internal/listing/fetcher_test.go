package listing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"feeportal/internal/apiclient"
	"feeportal/internal/auth"
	"feeportal/internal/filter"
	"feeportal/internal/metrics"
	"feeportal/internal/payment"
)

const jeanPage = `{"data":[{"payment_id":1,"student":"Jean Dupont","school":"SJP","matricule":"SJP-001","amount":"200000","status":"approved"}],"total":1}`

type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiclient.HistoryQuery
	respond func(ctx context.Context, q apiclient.HistoryQuery) ([]byte, error)
}

func (f *fakeAPI) History(ctx context.Context, token string, q apiclient.HistoryQuery) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	f.mu.Unlock()
	return f.respond(ctx, q)
}

func (f *fakeAPI) Calls() []apiclient.HistoryQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]apiclient.HistoryQuery(nil), f.calls...)
}

type staticToken string

func (s staticToken) Token() (string, error) {
	if s == "" {
		return "", auth.ErrUnauthenticated
	}
	return string(s), nil
}

type violations struct {
	mu    sync.Mutex
	count int
}

func (v *violations) ContractViolation(context.Context, string, *payment.ValidationError) {
	v.mu.Lock()
	v.count++
	v.mu.Unlock()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newFetcher(api Lister, tok TokenSource, rule StatusRule) *Fetcher {
	return NewFetcher(api, tok, Options{Name: "history", PageSize: 10, Rule: rule, Logger: quietLogger()})
}

func TestResolveRules(t *testing.T) {
	tests := []struct {
		rule   StatusRule
		status string
		want   string
	}{
		{HistoryRule, "", "approved,rejected"},
		{HistoryRule, "all", "approved,rejected"},
		{HistoryRule, "rejected", "rejected"},
		{QueueRule, "", "pending"},
		{QueueRule, " all ", "pending"},
	}
	for _, tc := range tests {
		got := apiclient.HistoryQuery{Statuses: tc.rule(tc.status)}.Values().Get("status")
		if got != tc.want {
			t.Fatalf("rule(%q) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestFetcher_SuccessScenario(t *testing.T) {
	api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
		return []byte(jeanPage), nil
	}}
	f := newFetcher(api, staticToken("tok"), HistoryRule)

	st, ok := f.Load(context.Background(), filter.Default(), 1)
	if !ok || st.Phase != PhaseSuccess {
		t.Fatalf("Load = %v/%v, err %v", st.Phase, ok, st.Err)
	}
	v := BuildView(st, f.PageSize())
	if v.Display != DisplayReady || len(v.Rows) != 1 {
		t.Fatalf("view = %+v", v)
	}
	row := v.Rows[0]
	if row.Amount != "200 000" || row.StatusLabel != "Approuvé" || row.Student != "Jean Dupont" {
		t.Fatalf("row = %+v", row)
	}
	if v.Total != 1 || v.Pages != 1 || v.TotalEstimated {
		t.Fatalf("pagination = %+v", v)
	}

	q := api.Calls()[0]
	if q.Page != 1 || q.Limit != 10 || len(q.Statuses) != 2 {
		t.Fatalf("query = %+v", q)
	}
}

func TestFetcher_NoTokenSkipsNetwork(t *testing.T) {
	api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
		t.Fatal("network must not be called without a token")
		return nil, nil
	}}
	f := newFetcher(api, staticToken(""), HistoryRule)

	st, ok := f.Load(context.Background(), filter.Default(), 1)
	if !ok || st.Phase != PhaseError || st.Err.Kind != KindAuth {
		t.Fatalf("state = %+v", st)
	}
	if len(api.Calls()) != 0 {
		t.Fatalf("calls = %d", len(api.Calls()))
	}
	if v := BuildView(st, 10); v.Display != DisplayError || v.ErrorKind != "auth" {
		t.Fatalf("view = %+v", v)
	}
}

func TestFetcher_ErrorKinds(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		body     string
		kind     ErrorKind
		contains string
	}{
		{"401", apiclient.ErrUnauthenticated, "", KindAuth, "reconnecter"},
		{"500 with detail", &apiclient.StatusError{Code: 500, Detail: "db down"}, "", KindServer, "db down"},
		{"transport", errors.New("dial tcp: refused"), "", KindServer, "réessayer"},
		{"schema", nil, `{"data":[{"payment_id":1,"status":"paid"}]}`, KindSchema, "Format de réponse inattendu"},
		{"not json", nil, `<html>502</html>`, KindSchema, "Format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
				if tc.err != nil {
					return nil, tc.err
				}
				return []byte(tc.body), nil
			}}
			rep := &violations{}
			f := NewFetcher(api, staticToken("tok"), Options{Reporter: rep, Logger: quietLogger()})

			st, _ := f.Load(context.Background(), filter.Default(), 1)
			if st.Phase != PhaseError || st.Err == nil || st.Err.Kind != tc.kind {
				t.Fatalf("state = %+v", st)
			}
			if len(st.Records) != 0 {
				t.Fatal("no partial data on error")
			}
			if !strings.Contains(st.Err.Message, tc.contains) {
				t.Fatalf("message %q missing %q", st.Err.Message, tc.contains)
			}
			wantReports := 0
			if tc.kind == KindSchema {
				wantReports = 1
			}
			if rep.count != wantReports {
				t.Fatalf("reports = %d, want %d", rep.count, wantReports)
			}
		})
	}
}

func TestFetcher_TotalFallback(t *testing.T) {
	api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
		return []byte(`[{"payment_id":1,"student":"A","school":"S","matricule":"M","amount":5,"status":"pending"}]`), nil
	}}
	f := newFetcher(api, staticToken("tok"), QueueRule)
	st, _ := f.Load(context.Background(), filter.Default(), 1)
	if st.Total != 1 || st.TotalReported {
		t.Fatalf("total = %d reported=%v", st.Total, st.TotalReported)
	}
	if v := BuildView(st, 10); !v.TotalEstimated {
		t.Fatal("view should flag the estimated total")
	}
}

func TestFetcher_StaleResponseNeverOverwrites(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})
	api := &fakeAPI{respond: func(_ context.Context, q apiclient.HistoryQuery) ([]byte, error) {
		if q.Search == "slow" {
			close(slowStarted)
			<-releaseSlow // ignores cancellation, like a transport that already has the bytes
			return []byte(`{"data":[{"payment_id":9,"student":"Old","school":"S","matricule":"M","amount":1,"status":"approved"}],"total":1}`), nil
		}
		return []byte(jeanPage), nil
	}}
	f := newFetcher(api, staticToken("tok"), HistoryRule)

	slowDone := make(chan bool)
	go func() {
		_, ok := f.Load(context.Background(), filter.State{Search: "slow", School: "all", Period: "all"}, 1)
		slowDone <- ok
	}()
	<-slowStarted

	st, ok := f.Load(context.Background(), filter.State{Search: "fast", School: "all", Period: "all"}, 1)
	if !ok || st.Records[0].Student != "Jean Dupont" {
		t.Fatalf("fast load = %+v, %v", st, ok)
	}

	close(releaseSlow)
	if <-slowDone {
		t.Fatal("superseded load reported as committed")
	}
	final := f.State()
	if final.Records[0].Student != "Jean Dupont" || final.Filters.Search != "fast" {
		t.Fatalf("stale response overwrote state: %+v", final)
	}
}

func TestFetcher_SupersededRequestIsCancelled(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	api := &fakeAPI{respond: func(ctx context.Context, q apiclient.HistoryQuery) ([]byte, error) {
		if q.Page == 1 {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		}
		return []byte(jeanPage), nil
	}}
	f := newFetcher(api, staticToken("tok"), HistoryRule)

	go f.Load(context.Background(), filter.Default(), 1)
	<-started
	f.Load(context.Background(), filter.Default(), 2)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("first request was not cancelled")
	}
	if st := f.State(); st.Page != 2 || st.Phase != PhaseSuccess {
		t.Fatalf("state = %+v", st)
	}
}

func TestFetcher_OrderFollowsBegin(t *testing.T) {
	f := newFetcher(okAPI(), staticToken("tok"), HistoryRule)

	older, ok := f.Begin(context.Background(), filter.Default(), 2)
	if !ok {
		t.Fatal("Begin refused")
	}
	newer, _ := f.Begin(context.Background(), filter.Default(), 3)

	if _, ok := f.Finish(newer); !ok {
		t.Fatal("newest request did not commit")
	}
	if _, ok := f.Finish(older); ok {
		t.Fatal("older request committed after the newer one")
	}
	if st := f.State(); st.Page != 3 || st.Phase != PhaseSuccess {
		t.Fatalf("state = %+v, want page 3", st)
	}
}

func TestFetcher_SupersededRequestIsNotAFailure(t *testing.T) {
	started := make(chan struct{})
	api := &fakeAPI{respond: func(ctx context.Context, q apiclient.HistoryQuery) ([]byte, error) {
		if q.Page == 1 {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return []byte(jeanPage), nil
	}}
	m := metrics.Discard()
	f := NewFetcher(api, staticToken("tok"), Options{Name: "history", Metrics: m, Logger: quietLogger()})

	done := make(chan bool)
	go func() {
		_, ok := f.Load(context.Background(), filter.Default(), 1)
		done <- ok
	}()
	<-started
	f.Load(context.Background(), filter.Default(), 2)
	if <-done {
		t.Fatal("cancelled request committed")
	}

	if got := testutil.ToFloat64(m.ListFetches.WithLabelValues("history", "server")); got != 0 {
		t.Fatalf("server failures = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.ListFetches.WithLabelValues("history", "success")); got != 1 {
		t.Fatalf("successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.StaleResponses.WithLabelValues("list")); got != 1 {
		t.Fatalf("stale = %v, want 1", got)
	}
}

func TestFetcher_DetachFreezesState(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
		<-release
		return []byte(jeanPage), nil
	}}
	f := newFetcher(api, staticToken("tok"), HistoryRule)

	done := make(chan bool)
	go func() {
		_, ok := f.Load(context.Background(), filter.Default(), 1)
		done <- ok
	}()
	waitFor(t, func() bool { return f.State().Phase == PhaseLoading })
	f.Detach()
	close(release)

	if <-done {
		t.Fatal("load committed after Detach")
	}
	if st := f.State(); st.Phase != PhaseLoading || len(st.Records) != 0 {
		t.Fatalf("state changed after Detach: %+v", st)
	}
	if _, ok := f.Load(context.Background(), filter.Default(), 1); ok {
		t.Fatal("Load after Detach must not commit")
	}
}

func TestFetcher_Wait(t *testing.T) {
	release := make(chan struct{})
	api := &fakeAPI{respond: func(context.Context, apiclient.HistoryQuery) ([]byte, error) {
		<-release
		return []byte(jeanPage), nil
	}}
	f := newFetcher(api, staticToken("tok"), HistoryRule)
	go f.Load(context.Background(), filter.Default(), 1)
	waitFor(t, func() bool { return f.State().Phase == PhaseLoading })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait err = %v", err)
	}

	close(release)
	st, err := f.Wait(context.Background())
	if err != nil || st.Phase != PhaseSuccess {
		t.Fatalf("Wait = %+v, %v", st, err)
	}
}

func TestBuildView_Precedence(t *testing.T) {
	rec := payment.Record{PaymentID: 1, Status: payment.StatusPending}
	tests := []struct {
		name string
		st   State
		want string
	}{
		{"idle", State{}, DisplayLoading},
		{"loading beats stale error", State{Phase: PhaseLoading, Err: &Error{Kind: KindServer}}, DisplayLoading},
		{"error beats data", State{Phase: PhaseError, Err: &Error{Kind: KindServer}, Records: []payment.Record{rec}}, DisplayError},
		{"empty", State{Phase: PhaseSuccess}, DisplayEmpty},
		{"ready", State{Phase: PhaseSuccess, Records: []payment.Record{rec}, Total: 25, TotalReported: true}, DisplayReady},
	}
	for _, tc := range tests {
		v := BuildView(tc.st, 10)
		if v.Display != tc.want {
			t.Fatalf("%s: display = %s, want %s", tc.name, v.Display, tc.want)
		}
		if tc.want != DisplayReady && len(v.Rows) != 0 {
			t.Fatalf("%s: rows must be hidden", tc.name)
		}
		if tc.want == DisplayReady && v.Pages != 3 {
			t.Fatalf("%s: pages = %d, want 3", tc.name, v.Pages)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewRow_Date(t *testing.T) {
	cases := []struct {
		in, iso string
	}{
		{"2024-03-05T10:00:00Z", "2024-03-05"},
		{"05/03/2024", "2024-03-05"},
		{"hier", ""},
		{"", ""},
	}
	for _, tc := range cases {
		row := NewRow(payment.Record{PaymentID: 1, Date: tc.in, Status: payment.StatusPending})
		if row.Date != tc.in || row.DateISO != tc.iso {
			t.Fatalf("NewRow date %q = (%q, %q), want (%q, %q)", tc.in, row.Date, row.DateISO, tc.in, tc.iso)
		}
	}
}
