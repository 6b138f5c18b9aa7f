package supplier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Selectors locates the portal's login form, report navigation, date-range
// widget, and results table. Defaults target the production portal; tests
// retarget a local fixture page.
type Selectors struct {
	LoginUser   string
	LoginPass   string
	LoginSubmit string
	// Landmark appears only after a successful login.
	Landmark   string
	ReportLink string
	RangeStart string
	RangeEnd   string
	RangeApply string
	TableRow   string
}

// DefaultSelectors matches the portal's current DOM. The scraper is coupled
// to this markup; a portal redesign lands here first.
func DefaultSelectors() Selectors {
	return Selectors{
		LoginUser:   `input[name="email"]`,
		LoginPass:   `input[name="password"]`,
		LoginSubmit: `button[type="submit"]`,
		Landmark:    `#dashboard-root`,
		ReportLink:  `a[href*="product-report"]`,
		RangeStart:  `input[name="date_start"]`,
		RangeEnd:    `input[name="date_end"]`,
		RangeApply:  `button.apply-range`,
		TableRow:    `table.report-table tbody tr`,
	}
}

// Config configures the scraper.
type Config struct {
	// StepTimeout bounds each wait step (navigation, element, table render).
	// Default: 20s.
	StepTimeout time.Duration
	// Selectors for the portal DOM. Default: DefaultSelectors().
	Selectors Selectors
	// ControlURL attaches to an already-running browser instead of launching
	// one (tests use this). Empty = launch a local headless Chrome.
	ControlURL string
	Logger     *slog.Logger
}

func (c *Config) defaults() {
	if c.StepTimeout <= 0 {
		c.StepTimeout = 20 * time.Second
	}
	if c.Selectors == (Selectors{}) {
		c.Selectors = DefaultSelectors()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scraper drives the portal session. One Scrape call owns one browser.
type Scraper struct {
	cfg Config
}

// NewScraper creates a Scraper.
func NewScraper(cfg Config) *Scraper {
	cfg.defaults()
	return &Scraper{cfg: cfg}
}

// Scrape logs in to the portal, applies the [start, end] date range on the
// product report, and reads every table row. The browser (and its launcher
// process) is closed on every exit path.
func (s *Scraper) Scrape(ctx context.Context, portal Portal, start, end string) ([]Metric, error) {
	log := s.cfg.Logger

	browser, cleanup, err := s.launch()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("supplier: stealth page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: 1920, Height: 1080, DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn("supplier: set viewport failed", "error", err)
	}

	// S1: authenticate.
	if err := s.login(ctx, page, portal); err != nil {
		return nil, err
	}
	log.Info("supplier: authenticated", "portal", portal.URL)

	// S2: navigate to the product report.
	if err := s.clickStep(ctx, page, s.cfg.Selectors.ReportLink, "report link"); err != nil {
		return nil, err
	}

	// S3: apply the date range.
	if err := s.applyRange(ctx, page, start, end); err != nil {
		return nil, err
	}

	// S4: extract the table.
	metrics, err := s.extract(ctx, page)
	if err != nil {
		return nil, err
	}
	log.Info("supplier: report extracted", "portal", portal.URL, "rows", len(metrics))
	return metrics, nil
}

// launch starts a headless Chrome with the container-safe flag set, or
// attaches to cfg.ControlURL. cleanup closes the browser and reaps the
// launcher process; it never leaves an orphan Chrome behind.
func (s *Scraper) launch() (*rod.Browser, func(), error) {
	if s.cfg.ControlURL != "" {
		b := rod.New().ControlURL(s.cfg.ControlURL)
		if err := b.Connect(); err != nil {
			return nil, nil, fmt.Errorf("supplier: connect: %w", err)
		}
		return b, func() { b.Close() }, nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("window-size", "1920,1080").
		Set("disable-extensions").
		Set("dns-prefetch-disable")

	u, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("supplier: launch: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, nil, fmt.Errorf("supplier: connect: %w", err)
	}
	cleanup := func() {
		b.Close()
		l.Cleanup()
	}
	return b, cleanup, nil
}

func (s *Scraper) step(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StepTimeout)
}

func (s *Scraper) login(ctx context.Context, page *rod.Page, portal Portal) error {
	sel := s.cfg.Selectors

	navCtx, cancel := s.step(ctx)
	defer cancel()
	if err := page.Context(navCtx).Navigate(portal.URL + "/login"); err != nil {
		return fmt.Errorf("supplier: navigate login: %w", err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return fmt.Errorf("supplier: login page load: %w", err)
	}

	if err := s.typeInto(navCtx, page, sel.LoginUser, portal.User); err != nil {
		return fmt.Errorf("supplier: username field: %w", err)
	}
	if err := s.typeInto(navCtx, page, sel.LoginPass, portal.Pass); err != nil {
		return fmt.Errorf("supplier: password field: %w", err)
	}
	if err := s.clickStep(navCtx, page, sel.LoginSubmit, "login submit"); err != nil {
		return err
	}

	// The landmark only renders once the session is established.
	waitCtx, cancel := s.step(ctx)
	defer cancel()
	if _, err := page.Context(waitCtx).Element(sel.Landmark); err != nil {
		return fmt.Errorf("supplier: login landmark not found (bad credentials or portal change): %w", err)
	}
	return nil
}

func (s *Scraper) applyRange(ctx context.Context, page *rod.Page, start, end string) error {
	sel := s.cfg.Selectors
	if err := s.typeInto(ctx, page, sel.RangeStart, start); err != nil {
		return fmt.Errorf("supplier: range start: %w", err)
	}
	if err := s.typeInto(ctx, page, sel.RangeEnd, end); err != nil {
		return fmt.Errorf("supplier: range end: %w", err)
	}
	return s.clickStep(ctx, page, sel.RangeApply, "range apply")
}

// extract waits for the results table and reads every row. Rows with fewer
// cells than the report layout are skipped (the portal renders summary rows
// with colspans).
func (s *Scraper) extract(ctx context.Context, page *rod.Page) ([]Metric, error) {
	waitCtx, cancel := s.step(ctx)
	defer cancel()

	if _, err := page.Context(waitCtx).Element(s.cfg.Selectors.TableRow); err != nil {
		return nil, fmt.Errorf("supplier: report table not rendered: %w", err)
	}
	rows, err := page.Context(waitCtx).Elements(s.cfg.Selectors.TableRow)
	if err != nil {
		return nil, fmt.Errorf("supplier: read rows: %w", err)
	}

	var out []Metric
	for _, row := range rows {
		cells, err := row.Elements("td")
		if err != nil || len(cells) < 10 {
			continue
		}
		texts := make([]string, len(cells))
		for i, c := range cells {
			t, err := c.Text()
			if err != nil {
				return nil, fmt.Errorf("supplier: read cell: %w", err)
			}
			texts[i] = t
		}
		out = append(out, Metric{
			Product:        texts[0],
			Provider:       texts[1],
			Stock:          parseCount(texts[2]),
			OrdersCount:    parseCount(texts[3]),
			OrdersValue:    parseMoney(texts[4]),
			TransitCount:   parseCount(texts[5]),
			TransitValue:   parseMoney(texts[6]),
			DeliveredCount: parseCount(texts[7]),
			DeliveredValue: parseMoney(texts[8]),
			Profit:         parseMoney(texts[9]),
		})
	}
	return out, nil
}

func (s *Scraper) typeInto(ctx context.Context, page *rod.Page, selector, text string) error {
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	el, err := page.Context(stepCtx).Element(selector)
	if err != nil {
		return err
	}
	// Select any prefilled value so Input overwrites instead of appending.
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text in %s: %w", selector, err)
	}
	return el.Input(text)
}

func (s *Scraper) clickStep(ctx context.Context, page *rod.Page, selector, what string) error {
	stepCtx, cancel := s.step(ctx)
	defer cancel()
	el, err := page.Context(stepCtx).Element(selector)
	if err != nil {
		return fmt.Errorf("supplier: %s not found: %w", what, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("supplier: click %s: %w", what, err)
	}
	return nil
}
