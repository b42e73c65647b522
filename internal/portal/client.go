// Package portal drives the Luft-Online research form, a server-rendered
// page whose dependent dropdowns are only reachable through postbacks.
//
// Every transition is a POST to the same endpoint. The hidden session
// fields scraped from the previous response must be echoed back, and the
// event target names the dropdown that changed. The server decides which
// options are valid next, so the client re-reads each dropdown after
// every postback instead of assuming it is stable.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rewired-gh/luftonline/internal/logger"
	"github.com/rewired-gh/luftonline/internal/models"
	"golang.org/x/net/html/charset"
)

// State is the position of the session in the postback protocol
type State int

const (
	StateInit State = iota
	StateStationsEnumerated
	StateStationSelected
	StateSubstanceSelected
	StateAccuracyNegotiated
	StatePeriodSet
	StateExportFetched
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStationsEnumerated:
		return "stations-enumerated"
	case StateStationSelected:
		return "station-selected"
	case StateSubstanceSelected:
		return "substance-selected"
	case StateAccuracyNegotiated:
		return "accuracy-negotiated"
	case StatePeriodSet:
		return "period-set"
	case StateExportFetched:
		return "export-fetched"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ClientConfig holds optional HTTP settings
type ClientConfig struct {
	UserAgent string
}

// Client is one browser-like session against the form endpoint.
// It is not safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	userAgent  string

	state    State
	fields   map[string]string
	stations []*models.Station
	station  *models.Station
}

// NewClient creates a session against endpoint. Every request is bounded by timeout.
func NewClient(endpoint string, timeout time.Duration, cfg ClientConfig) *Client {
	// cookiejar.New only fails on a bad PublicSuffixList option
	jar, _ := cookiejar.New(nil)

	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Jar:     jar,
		},
		userAgent: cfg.UserAgent,
		state:     StateInit,
		fields:    make(map[string]string),
	}
}

// State returns the current protocol state
func (c *Client) State() State {
	return c.state
}

// Field returns the current session value of a form field
func (c *Client) Field(name string) (string, bool) {
	v, ok := c.fields[name]
	return v, ok
}

// Stations returns the stations of the last enumeration
func (c *Client) Stations() []*models.Station {
	return c.stations
}

// EnumerateStations loads the form and reads the station dropdown.
// Previously held stations and their substances are discarded.
func (c *Client) EnumerateStations(ctx context.Context) ([]*models.Station, error) {
	logger.Info("Reading stations")
	doc, err := c.Post(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load form: %w", err)
	}

	for _, st := range c.stations {
		st.ResetSubstances()
	}
	c.stations = nil
	c.station = nil

	options, err := dropdownOptions(doc, StationsID)
	if err != nil {
		return nil, err
	}
	for _, opt := range options {
		c.stations = append(c.stations, &models.Station{ID: opt.value, Name: opt.text})
	}

	c.state = StateStationsEnumerated
	logger.Debug("Found %d stations", len(c.stations))
	return c.stations, nil
}

// SelectStation posts the station dropdown and rebuilds the station's
// substance list from the dependent dropdown.
func (c *Client) SelectStation(ctx context.Context, st *models.Station) error {
	if c.state < StateStationsEnumerated {
		return fmt.Errorf("%w: select station in state %s", ErrInvalidState, c.state)
	}

	logger.Info("Processing station %s", st.Name)
	doc, err := c.Post(ctx, map[string]string{
		FieldEventTarget: StationsKey,
		StationsKey:      st.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to select station %s: %w", st.Name, err)
	}

	options, err := dropdownOptions(doc, SubstancesID)
	if err != nil {
		return err
	}
	st.ResetSubstances()
	for _, opt := range options {
		st.AddSubstance(opt.value, opt.text)
	}

	c.station = st
	c.state = StateStationSelected
	logger.Debug("Selected station %s, %d substances", st.Name, len(st.Substances))
	return nil
}

// SelectSubstance posts the substance dropdown and negotiates the finest
// available accuracy. ErrNoAccuracy leaves sub.Accuracy empty and the
// session in StateSubstanceSelected.
func (c *Client) SelectSubstance(ctx context.Context, sub *models.Substance) error {
	if c.state < StateStationSelected {
		return fmt.Errorf("%w: select substance in state %s", ErrInvalidState, c.state)
	}
	if sub.Station == nil || sub.Station != c.station {
		return fmt.Errorf("%w: substance %s does not belong to the selected station", ErrInvalidState, sub)
	}

	logger.Info("Processing substance %s", sub.Name)
	doc, err := c.Post(ctx, map[string]string{
		FieldEventTarget: SubstancesKey,
		SubstancesKey:    sub.ID,
	})
	if err != nil {
		return fmt.Errorf("failed to select substance %s: %w", sub, err)
	}

	options, err := dropdownOptions(doc, AccuracyID)
	if err != nil {
		return err
	}
	values := make([]string, 0, len(options))
	for _, opt := range options {
		values = append(values, opt.value)
	}

	c.state = StateSubstanceSelected

	token, ok := models.SelectAccuracy(values)
	if !ok {
		sub.Accuracy = ""
		return fmt.Errorf("%w: %s offers %v", ErrNoAccuracy, sub, values)
	}
	sub.Accuracy = token

	logger.Debug("Setting accuracy to: %s (%s)", token, models.AccuracyName(token))
	if _, err := c.Post(ctx, map[string]string{
		FieldEventTarget: AccuracyKey,
		AccuracyKey:      token,
	}); err != nil {
		return fmt.Errorf("failed to set accuracy for %s: %w", sub, err)
	}

	c.state = StateAccuracyNegotiated
	return nil
}

// SetPeriod posts the query window for p along with line/table chart mode
func (c *Client) SetPeriod(ctx context.Context, p models.Period) error {
	if c.state < StateAccuracyNegotiated {
		return fmt.Errorf("%w: set period in state %s", ErrInvalidState, c.state)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid period: %w", err)
	}

	logger.Debug("Setting time limits: %s", p)
	if _, err := c.Post(ctx, periodFields(p)); err != nil {
		return fmt.Errorf("failed to set period %s: %w", p, err)
	}

	c.state = StatePeriodSet
	return nil
}

// FetchExport triggers the CSV download and returns the body unmodified.
// The one-shot download field is removed from session state afterwards,
// whether or not the request succeeded.
func (c *Client) FetchExport(ctx context.Context) (string, error) {
	if c.state < StatePeriodSet {
		return "", fmt.Errorf("%w: fetch export in state %s", ErrInvalidState, c.state)
	}
	defer delete(c.fields, ExportButtonKey)

	logger.Info("Downloading data...")
	body, err := c.PostRaw(ctx, map[string]string{
		ExportButtonKey:  ExportButtonValue,
		FieldEventTarget: "",
	})
	if err != nil {
		return "", fmt.Errorf("failed to download export: %w", err)
	}

	c.state = StateExportFetched
	return body, nil
}

// Post merges fields into the session state, submits the form and parses
// the HTML response. Every tracked hidden field is refreshed from it.
func (c *Client) Post(ctx context.Context, fields map[string]string) (*goquery.Document, error) {
	body, err := c.do(ctx, fields)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Hidden fields are replaced wholesale: a field the page no longer
	// renders is not echoed back either.
	for _, name := range trackedFields {
		sel := doc.Find("#" + name)
		if sel.Length() == 0 {
			delete(c.fields, name)
			continue
		}
		c.fields[name] = sel.AttrOr("value", "")
	}
	return doc, nil
}

// PostRaw merges fields into the session state, submits the form and
// returns the decoded body without touching the hidden fields.
func (c *Client) PostRaw(ctx context.Context, fields map[string]string) (string, error) {
	return c.do(ctx, fields)
}

// do performs one form submission with the full session state
func (c *Client) do(ctx context.Context, fields map[string]string) (string, error) {
	for k, v := range fields {
		c.fields[k] = v
	}

	form := url.Values{}
	for k, v := range c.fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	logger.Debug("POST %s (target=%q, %d fields)", c.endpoint, c.fields[FieldEventTarget], len(form))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	// The portal serves ISO-8859-1 pages; decode per Content-Type
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(data), nil
}

type option struct {
	value string
	text  string
}

// dropdownOptions returns the options of the <select> with the given id
func dropdownOptions(doc *goquery.Document, id string) ([]option, error) {
	sel := doc.Find("#" + id)
	if sel.Length() == 0 {
		return nil, &ShapeError{Element: id}
	}

	var options []option
	var missing bool
	sel.Find("option").Each(func(_ int, s *goquery.Selection) {
		value, ok := s.Attr("value")
		if !ok {
			missing = true
			return
		}
		options = append(options, option{value: value, text: strings.TrimSpace(s.Text())})
	})
	if missing {
		return nil, &ShapeError{Element: id + " option[value]"}
	}
	return options, nil
}
