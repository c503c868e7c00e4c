package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"budget/internal/core"
	applog "budget/internal/log"
	ports "budget/internal/sheets"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	changesSheet  string
	logger        *applog.Logger
}

// Ensure interface conformance
var (
	_ ports.ChangeWriter = (*Client)(nil)
	_ ports.ChangeLister = (*Client)(nil)
)

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheetName string, logger *applog.Logger) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		changesSheet:  sheetName,
		logger:        applog.OrDefault(logger, applog.ComponentSheets),
	}
}

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional: GOOGLE_SHEET_NAME (default "Changes"), prefixed with the current year.
func NewFromEnv(ctx context.Context, logger *applog.Logger) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	base := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if base == "" {
		base = "Changes"
	}

	logger = applog.OrDefault(logger, applog.ComponentSheets)
	svc, err := newSheetsService(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return New(svc, spreadsheetID, yearPrefixedName(base, time.Now().Year()), logger), nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context, logger *applog.Logger) (*gsheet.Service, error) {
	credentialsJSON, err := loadCredentials(ctx, logger)
	if err != nil {
		return nil, err
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

func loadCredentials(ctx context.Context, logger *applog.Logger) ([]byte, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	// Also check the standard Google Cloud environment variable
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case serviceAccountJSON != "":
		logger.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(serviceAccountJSON), nil
	case serviceAccountFile != "":
		logger.InfoContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// SheetName returns the name of the sheet changes are appended to.
func (c *Client) SheetName() string { return c.changesSheet }

// AppendChanges appends one row per change below the existing log.
func (c *Client) AppendChanges(ctx context.Context, batchID string, at time.Time, changes []core.PendingChange) (int, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if len(changes) == 0 {
		return 0, nil
	}

	rows := ports.RowsFromBatch(batchID, at, changes)
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		values = append(values, []any{
			r.BatchID,
			r.At.Format(time.RFC3339),
			string(r.Type),
			r.ItemID,
			r.Title,
			r.Category,
			r.Amount,
			r.Currency,
		})
	}

	rng := fmt.Sprintf("%s!A:H", c.changesSheet)
	vr := &gsheet.ValueRange{Values: values}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("append to sheet %s: %w", c.changesSheet, err)
	}

	written := len(rows)
	if resp.Updates != nil && resp.Updates.UpdatedRows > 0 {
		written = int(resp.Updates.UpdatedRows)
	}
	c.logger.InfoContext(ctx, "Appended change rows",
		applog.FieldOperation, applog.OpAppend,
		"batch_id", batchID,
		"rows", written,
		"sheet", c.changesSheet)
	return written, nil
}

// Exchange appends changes under a fresh batch id, letting the client
// stand in as the store's remote exchange.
func (c *Client) Exchange(ctx context.Context, changes []core.PendingChange) error {
	_, err := c.AppendChanges(ctx, uuid.NewString(), time.Now(), changes)
	return err
}

// ListChanges reads the change log, skipping the header and malformed rows.
func (c *Client) ListChanges(ctx context.Context) ([]ports.ChangeRow, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:H", c.changesSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	var out []ports.ChangeRow
	for _, raw := range resp.Values {
		if row, ok := parseRow(toStrings(raw)); ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func parseRow(cols []string) (ports.ChangeRow, bool) {
	if len(cols) < 4 {
		return ports.ChangeRow{}, false
	}
	at, err := time.Parse(time.RFC3339, cols[1])
	if err != nil {
		// header or hand-edited row
		return ports.ChangeRow{}, false
	}
	row := ports.ChangeRow{
		BatchID: cols[0],
		At:      at,
		Type:    core.ChangeType(cols[2]),
		ItemID:  cols[3],
	}
	switch row.Type {
	case core.ChangeAdd, core.ChangeUpdate, core.ChangeRemove:
	default:
		return ports.ChangeRow{}, false
	}
	row.Title = safeGet(cols, 4)
	row.Category = safeGet(cols, 5)
	if amount, ok := parseAmount(safeGet(cols, 6)); ok {
		row.Amount = amount
	}
	row.Currency = safeGet(cols, 7)
	return row, true
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}

func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	// Normalize decimal comma
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
