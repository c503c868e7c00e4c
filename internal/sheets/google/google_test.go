package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budget/internal/core"
	applog "budget/internal/log"
)

// fakeSheets records appended rows and serves them back on reads.
type fakeSheets struct {
	mu      sync.Mutex
	rows    [][]any
	appends int
	query   string
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.appends++
		f.query = r.URL.RawQuery
		f.rows = append(f.rows, vr.Values...)
		json.NewEncoder(w).Encode(map[string]any{
			"spreadsheetId": "sheet-id",
			"updates":       map[string]any{"updatedRows": len(vr.Values)},
		})
	case r.Method == http.MethodGet:
		values := [][]any{{"Batch", "Timestamp", "Type", "Item ID", "Title", "Category", "Amount", "Currency"}}
		values = append(values, f.rows...)
		json.NewEncoder(w).Encode(map[string]any{"range": "Changes!A:H", "values": values})
	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeSheets) {
	t.Helper()
	fake := &fakeSheets{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithHTTPClient(srv.Client()),
		goption.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(svc, "sheet-id", "2024 Changes", applog.Discard()), fake
}

func TestNewFromEnv_MissingSpreadsheetID(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "")

	_, err := NewFromEnv(context.Background(), applog.Discard())
	if err == nil {
		t.Fatal("expected error for missing GOOGLE_SPREADSHEET_ID")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SPREADSHEET_ID", "test-id")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background(), applog.Discard())
	if err == nil {
		t.Fatal("expected credentials error")
	}
	// Should fail at the service stage, not config parsing
	if !strings.Contains(err.Error(), "sheets service") {
		t.Errorf("expected service error, got: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name    string
		inline  string
		file    string
		adc     string
		want    string
		wantErr bool
	}{
		{"inline wins", `{"inline":true}`, path, "", `{"inline":true}`, false},
		{"file", "", path, "", `{"type":"service_account"}`, false},
		{"application default path", "", "", path, `{"type":"service_account"}`, false},
		{"missing file", "", filepath.Join(dir, "nope.json"), "", "", true},
		{"nothing set", "", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", tt.inline)
			t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", tt.file)
			t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", tt.adc)

			got, err := loadCredentials(context.Background(), applog.Discard())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppendChanges_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test", logger: applog.Discard()}
	_, err := c.AppendChanges(context.Background(), "b1", time.Now(), []core.PendingChange{{Type: core.ChangeRemove, ID: "1"}})
	if err == nil {
		t.Fatal("expected error with nil service")
	}
}

func TestAppendAndListChanges(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	changes := []core.PendingChange{
		{Type: core.ChangeAdd, Item: &core.Item{ID: "1", Title: "Lunch", Category: "Food", Amount: 1500, Currency: "NGN"}},
		{Type: core.ChangeRemove, ID: "2"},
	}
	n, err := c.AppendChanges(ctx, "b1", at, changes)
	if err != nil {
		t.Fatalf("AppendChanges: %v", err)
	}
	if n != 2 {
		t.Errorf("written = %d, want 2", n)
	}
	if !strings.Contains(fake.query, "valueInputOption=USER_ENTERED") {
		t.Errorf("query = %q", fake.query)
	}

	rows, err := c.ListChanges(ctx)
	if err != nil {
		t.Fatalf("ListChanges: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (header skipped)", len(rows))
	}
	if rows[0].BatchID != "b1" || rows[0].Title != "Lunch" || rows[0].Amount != 1500 || !rows[0].At.Equal(at) {
		t.Errorf("unexpected first row: %+v", rows[0])
	}
	if rows[1].Type != core.ChangeRemove || rows[1].ItemID != "2" {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
}

func TestAppendChanges_EmptyBatch(t *testing.T) {
	c, fake := newTestClient(t)
	n, err := c.AppendChanges(context.Background(), "b1", time.Now(), nil)
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if fake.appends != 0 {
		t.Errorf("empty batch should not call the API")
	}
}

func TestExchange(t *testing.T) {
	c, fake := newTestClient(t)
	err := c.Exchange(context.Background(), []core.PendingChange{{Type: core.ChangeRemove, ID: "9"}})
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if fake.appends != 1 || len(fake.rows) != 1 {
		t.Fatalf("appends=%d rows=%d", fake.appends, len(fake.rows))
	}
	if id, _ := fake.rows[0][0].(string); id == "" {
		t.Errorf("exchange should assign a batch id")
	}
}

func TestParseRow(t *testing.T) {
	tests := []struct {
		name string
		cols []string
		ok   bool
	}{
		{"header", []string{"Batch", "Timestamp", "Type", "Item ID"}, false},
		{"too short", []string{"b1", "2024-03-01T09:00:00Z"}, false},
		{"unknown type", []string{"b1", "2024-03-01T09:00:00Z", "rename", "1"}, false},
		{"remove", []string{"b1", "2024-03-01T09:00:00Z", "remove", "1"}, true},
		{"comma amount", []string{"b1", "2024-03-01T09:00:00Z", "add", "1", "T", "Food", "12,5", "EUR"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, ok := parseRow(tt.cols)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if tt.name == "comma amount" && row.Amount != 12.5 {
				t.Errorf("amount = %v, want 12.5", row.Amount)
			}
		})
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		baseName string
		year     int
		expected string
	}{
		{"Changes", 2025, "2025 Changes"},
		{"", 2023, ""},
		{"Change Log", 2022, "2022 Change Log"},
		{"2025 Already Prefixed", 2024, "2025 Already Prefixed"},
	}

	for _, tt := range tests {
		got := yearPrefixedName(tt.baseName, tt.year)
		if got != tt.expected {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q",
				tt.baseName, tt.year, got, tt.expected)
		}
	}
}
