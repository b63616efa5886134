package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHistoryQuery_Values(t *testing.T) {
	q := HistoryQuery{Search: "  jean ", School: "all", Period: "2025-T1", Statuses: []string{"approved", "rejected"}, Page: 0, Limit: 10}
	v := q.Values()

	if v.Get("search") != "jean" {
		t.Fatalf("search = %q", v.Get("search"))
	}
	if v.Has("school") {
		t.Fatal("school=all must be omitted")
	}
	if v.Get("period") != "2025-T1" {
		t.Fatalf("period = %q", v.Get("period"))
	}
	if v.Get("status") != "approved,rejected" {
		t.Fatalf("status = %q", v.Get("status"))
	}
	if v.Get("page") != "1" || v.Get("limit") != "10" {
		t.Fatalf("page/limit = %q/%q", v.Get("page"), v.Get("limit"))
	}
}

func TestHistory_SendsBearerAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("page") != "3" {
			t.Errorf("page = %q", r.URL.Query().Get("page"))
		}
		_, _ = w.Write([]byte(`{"data":[],"total":0}`))
	}))
	defer srv.Close()

	body, err := New(srv.URL+"/").History(context.Background(), "tok", HistoryQuery{Page: 3, Limit: 10})
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if string(body) != `{"data":[],"total":0}` {
		t.Fatalf("body = %s", body)
	}
}

func TestClient_EmptyTokenSkipsNetwork(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.History(context.Background(), "", HistoryQuery{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if _, err := c.PaymentFile(context.Background(), " ", 4); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server was called %d times", hits.Load())
	}
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantUnauth bool
		wantDetail string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"detail":"token expired"}`, true, ""},
		{"detail", http.StatusForbidden, `{"detail":"forbidden school"}`, false, "forbidden school"},
		{"message", http.StatusNotFound, `{"message":"not found"}`, false, "not found"},
		{"plain text", http.StatusInternalServerError, `boom`, false, ""},
		{"structured detail", http.StatusBadRequest, `{"detail":[{"loc":"x"}],"message":"bad"}`, false, "bad"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL).PaymentFile(context.Background(), "tok", 42)
			if tc.wantUnauth {
				if !errors.Is(err, ErrUnauthenticated) {
					t.Fatalf("err = %v, want ErrUnauthenticated", err)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %T %v, want *StatusError", err, err)
			}
			if se.Code != tc.status || se.Detail != tc.wantDetail {
				t.Fatalf("StatusError = %+v", se)
			}
		})
	}
}

func TestPaymentFile_ReturnsContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/payments/42/file/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	f, err := New(srv.URL).PaymentFile(context.Background(), "tok", 42)
	if err != nil {
		t.Fatalf("PaymentFile error: %v", err)
	}
	if f.ContentType != "application/pdf" || string(f.Data) != "%PDF-1.4" {
		t.Fatalf("file = %q %q", f.ContentType, f.Data)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(srv.URL).DashboardStats(ctx, "tok"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
