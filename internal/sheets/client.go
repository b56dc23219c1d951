// Package sheets stores reports in the tabs of a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/livinlefevreloca/ghareport/internal/report"
)

// Client implements report.Sink on top of the Sheets v4 API. Each batch is
// sent as a single spreadsheets.batchUpdate call, which the API applies
// atomically.
type Client struct {
	service       *sheetsapi.Service
	spreadsheetID string
	logger        *slog.Logger
}

var _ report.Sink = (*Client)(nil)

// New creates a client for the spreadsheet named in cfg
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	service, err := sheetsapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		logger:        logger,
	}, nil
}

// a1 qualifies ref with the quoted sheet title
func a1(sheet, ref string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + ref
}

// properties looks up the tab titled sheet
func (c *Client) properties(ctx context.Context, sheet string) (*sheetsapi.SheetProperties, error) {
	ss, err := c.service.Spreadsheets.Get(c.spreadsheetID).
		Fields("sheets.properties").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}

	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return s.Properties, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", report.ErrSheetNotFound, sheet)
}

// classify maps API errors about unknown tabs onto report.ErrSheetNotFound
func classify(sheet string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusBadRequest &&
		strings.Contains(apiErr.Message, "Unable to parse range") {
		return fmt.Errorf("%w: %q", report.ErrSheetNotFound, sheet)
	}
	return err
}

// ReadCell returns the unformatted value at ref, or nil when the cell is empty
func (c *Client) ReadCell(ctx context.Context, sheet, ref string) (any, error) {
	values, err := c.ReadRange(ctx, sheet, ref)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 || len(values[0]) == 0 {
		return nil, nil
	}
	return values[0][0], nil
}

// ReadRange returns the unformatted values in ref. Dates come back as serial
// numbers.
func (c *Client) ReadRange(ctx context.Context, sheet, ref string) ([][]any, error) {
	resp, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, a1(sheet, ref)).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(sheet, err)
	}
	return resp.Values, nil
}

// ClearRange removes the values in ref
func (c *Client) ClearRange(ctx context.Context, sheet, ref string) error {
	_, err := c.service.Spreadsheets.Values.Clear(c.spreadsheetID, a1(sheet, ref), &sheetsapi.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return classify(sheet, err)
	}
	return nil
}

// ApplyBatch sends every op of b in one batchUpdate call
func (c *Client) ApplyBatch(ctx context.Context, b report.Batch) error {
	props, err := c.properties(ctx, b.Sheet)
	if err != nil {
		return err
	}

	var grid sheetsapi.GridProperties
	if props.GridProperties != nil {
		grid = *props.GridProperties
	}
	requests, err := buildRequests(props.SheetId, grid, b)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		return nil
	}

	_, err = c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch update %q: %w", b.Sheet, err)
	}

	if c.logger != nil {
		c.logger.Debug("applied batch", "sheet", b.Sheet, "ops", len(b.Ops), "requests", len(requests))
	}
	return nil
}
