package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fincontrol/internal/core"
	ports "fincontrol/internal/sheets"
)

const (
	defaultSheetName     = "Ledger"
	defaultCacheDuration = 30 * time.Second
	lastColumn           = "J"
)

// header is the first row of the mirror sheet. Column A holds the
// transaction id and keys every other row.
var header = []any{"ID", "Date", "Description", "Amount", "Type", "Paid", "Category", "Card", "Recurring", "Group"}

var jsonUnmarshal = json.Unmarshal

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string

	mu                 sync.Mutex
	sheetID            *int64
	cachedRows         map[string]int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var _ ports.Mirror = (*Client)(nil)

// Options selects the spreadsheet and the OAuth credentials. Inline JSON
// takes precedence over files.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	OAuthClientJSON string
	OAuthClientFile string
	OAuthTokenJSON  string
	OAuthTokenFile  string
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	if sheetName == "" {
		sheetName = defaultSheetName
	}
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		sheetName:          sheetName,
		cacheValidDuration: defaultCacheDuration,
	}
}

// NewFromOptions authenticates with the stored OAuth token and returns a
// client for the mirror sheet.
func NewFromOptions(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, opts.SpreadsheetID, opts.SheetName), nil
}

func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	clientJSON, err := readCredential(opts.OAuthClientJSON, opts.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	if clientJSON == nil {
		return nil, errors.New("missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)")
	}
	tokenJSON, err := readCredential(opts.OAuthTokenJSON, opts.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}
	if tokenJSON == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}

	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	var token oauth2.Token
	if err := jsonUnmarshal(tokenJSON, &token); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}

	// the token source refreshes over the pooled client
	base := context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
	httpClient := cfg.Client(base, &token)

	svc, err := gsheet.NewService(ctx, goption.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func readCredential(inline, file string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if file == "" {
		return nil, nil
	}
	return os.ReadFile(file)
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Upsert implements ports.RowWriter.
func (c *Client) Upsert(ctx context.Context, ts []core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if len(ts) == 0 {
		return nil
	}
	rows, err := c.rowIndex(ctx)
	if err != nil {
		return err
	}

	var updates []*gsheet.ValueRange
	var appends [][]any
	for _, t := range ts {
		if row, ok := rows[t.ID]; ok {
			updates = append(updates, &gsheet.ValueRange{
				Range:  c.rowRange(row),
				Values: [][]any{rowFor(t)},
			})
			continue
		}
		appends = append(appends, rowFor(t))
	}

	if len(updates) > 0 {
		req := &gsheet.BatchUpdateValuesRequest{ValueInputOption: "USER_ENTERED", Data: updates}
		if _, err := c.svc.Spreadsheets.Values.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			c.invalidateRowCache()
			return fmt.Errorf("update rows in sheet %s: %w", c.sheetName, err)
		}
	}
	if len(appends) > 0 {
		vr := &gsheet.ValueRange{Values: appends}
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.fullRange(), vr).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		// appended rows shift the index either way
		c.invalidateRowCache()
		if err != nil {
			return fmt.Errorf("append rows to sheet %s: %w", c.sheetName, err)
		}
	}

	slog.DebugContext(ctx, "Mirrored transactions",
		"sheet", c.sheetName,
		"updated", len(updates),
		"appended", len(appends))
	return nil
}

// Delete implements ports.RowWriter.
func (c *Client) Delete(ctx context.Context, ids []string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := c.rowIndex(ctx)
	if err != nil {
		return err
	}
	var targets []int
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			targets = append(targets, row)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	sheetID, err := c.resolveSheetID(ctx)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: deleteRequests(sheetID, targets)}
	_, err = c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do()
	c.invalidateRowCache()
	if err != nil {
		return fmt.Errorf("delete rows from sheet %s: %w", c.sheetName, err)
	}
	return nil
}

// Replace implements ports.Replacer.
func (c *Client) Replace(ctx context.Context, ts []core.Transaction) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	defer c.invalidateRowCache()

	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, c.fullRange(), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear sheet %s: %w", c.sheetName, err)
	}

	values := make([][]any, 0, len(ts)+1)
	values = append(values, header)
	for _, t := range ts {
		values = append(values, rowFor(t))
	}
	vr := &gsheet.ValueRange{Values: values}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.sheetName+"!A1", vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write sheet %s: %w", c.sheetName, err)
	}
	return nil
}

// rowIndex maps transaction ids to 1-based sheet rows. The index is cached
// for cacheValidDuration and dropped after every structural change.
func (c *Client) rowIndex(ctx context.Context) (map[string]int, error) {
	c.mu.Lock()
	if c.cachedRows != nil && time.Now().Before(c.cacheExpiresAt) {
		rows := c.cachedRows
		c.mu.Unlock()
		return rows, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	rows := parseIDColumn(resp.Values)

	c.mu.Lock()
	c.cachedRows = rows
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	c.mu.Unlock()
	return rows, nil
}

func (c *Client) invalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedRows = nil
	c.cacheExpiresAt = time.Time{}
}

func (c *Client) resolveSheetID(ctx context.Context) (int64, error) {
	c.mu.Lock()
	if c.sheetID != nil {
		id := *c.sheetID
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet properties: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			id := s.Properties.SheetId
			c.mu.Lock()
			c.sheetID = &id
			c.mu.Unlock()
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q: %w", c.sheetName, core.ErrNotFound)
}

func (c *Client) rowRange(row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", c.sheetName, row, lastColumn, row)
}

func (c *Client) fullRange() string {
	return fmt.Sprintf("%s!A:%s", c.sheetName, lastColumn)
}

// rowFor lays out one transaction in header order.
func rowFor(t core.Transaction) []any {
	return []any{
		t.ID,
		t.Date.String(),
		t.Description,
		t.Amount.StringFixed(2),
		string(t.Kind),
		t.Settled,
		t.Category,
		t.CardID,
		t.Recurring,
		t.RecurringGroupID,
	}
}

// parseIDColumn reads column A. Row 1 is the header; blank cells are skipped
// and the first row wins for a duplicated id.
func parseIDColumn(values [][]any) map[string]int {
	rows := make(map[string]int, len(values))
	for i, row := range values {
		if i == 0 || len(row) == 0 {
			continue
		}
		id := strings.TrimSpace(fmt.Sprint(row[0]))
		if id == "" {
			continue
		}
		if _, seen := rows[id]; !seen {
			rows[id] = i + 1
		}
	}
	return rows
}

// deleteRequests removes rows bottom-up so earlier deletions do not shift
// later targets.
func deleteRequests(sheetID int64, rows []int) []*gsheet.Request {
	sorted := slices.Clone(rows)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	slices.Reverse(sorted)

	reqs := make([]*gsheet.Request, 0, len(sorted))
	for _, row := range sorted {
		reqs = append(reqs, &gsheet.Request{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
					// sheet id 0 is valid and would otherwise be omitted
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		})
	}
	return reqs
}
