package logstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"telegate/internal/api"
	"telegate/internal/ipc"
	"telegate/internal/logs"
	"telegate/internal/logstream"
)

type fakeTail struct {
	requests []ipc.LogTailRequest
	lines    []string
}

func (f *fakeTail) LogTail(req ipc.LogTailRequest) (*ipc.LogTailResponse, error) {
	f.requests = append(f.requests, req)
	return &ipc.LogTailResponse{Lines: f.lines, Offset: 128}, nil
}

func TestStreamUsesAPIWhenAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("device") != "Main FAN" {
			t.Errorf("device filter not forwarded: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(api.LogStreamResponse{
			Events: []api.LogEvent{{Sequence: 1, Message: "saved"}, {Sequence: 2, Message: "saved again"}},
			Next:   2,
		})
	}))
	defer srv.Close()

	client, err := logs.NewStreamClient(srv.URL, "")
	if err != nil {
		t.Fatalf("NewStreamClient: %v", err)
	}
	fallback := &fakeTail{}
	var got []string
	printed, err := logstream.Stream(context.Background(), client, fallback,
		logstream.Options{Lines: 10, Filters: logstream.Filters{Device: "Main FAN"}},
		func(evt api.LogEvent) { got = append(got, evt.Message) },
		func(string) { t.Error("unexpected raw line") },
	)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(got) != 2 {
		t.Fatalf("expected two events, got %v", got)
	}
	if len(fallback.requests) != 0 {
		t.Fatal("fallback should not be used when the API answers")
	}
}

func TestStreamFallsBackToTail(t *testing.T) {
	fallback := &fakeTail{lines: []string{"one", "two"}}
	var got []string
	printed, err := logstream.Stream(context.Background(), nil, fallback,
		logstream.Options{Lines: 5},
		nil,
		func(line string) { got = append(got, line) },
	)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if !printed || len(got) != 2 {
		t.Fatalf("expected tail lines, got %v", got)
	}
	if len(fallback.requests) != 1 || fallback.requests[0].Offset != -1 || fallback.requests[0].Limit != 5 {
		t.Fatalf("unexpected tail request: %+v", fallback.requests)
	}
}

func TestStreamFiltersRequireAPI(t *testing.T) {
	_, err := logstream.Stream(context.Background(), nil, &fakeTail{},
		logstream.Options{Filters: logstream.Filters{Component: "ingest"}},
		nil, nil,
	)
	if !errors.Is(err, logstream.ErrFiltersRequireAPI) {
		t.Fatalf("expected ErrFiltersRequireAPI, got %v", err)
	}
}
