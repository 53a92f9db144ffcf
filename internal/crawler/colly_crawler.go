package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-broker/internal/logging"
	"github.com/JakeFAU/crawl-broker/internal/metrics"
	"github.com/JakeFAU/crawl-broker/internal/policy/ratelimit"
)

var defaultXPaths = []string{"//p", "//td"}

// CollyEngine crawls each start URL with its own colly collector, restricted
// to the start URL's host. Sites are crawled one after another.
type CollyEngine struct {
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewCollyEngine builds an engine; zero config fields take DefaultConfig values.
func NewCollyEngine(cfg Config, logger *zap.Logger) *CollyEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &CollyEngine{
		cfg:     cfg,
		limiter: ratelimit.New(ratelimit.Config{RPS: cfg.RequestsPerSecond, Burst: cfg.Burst}),
		logger:  logger.Named("engine"),
	}
}

// Run crawls every start URL of spec. It reports success when at least one
// page was fetched. Errors are reserved for crawls that cannot start or whose
// results cannot be written.
func (e *CollyEngine) Run(ctx context.Context, spec Specification) (bool, error) {
	filter, err := newLinkFilter(spec.Whitelist, spec.Blacklist, e.cfg.DeniedExtensions)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidSpecification, err)
	}

	logger := e.logger.With(zap.String("crawl", spec.Name))
	var logPath string
	if spec.Logs != "" {
		logPath = filepath.Join(spec.Logs, spec.Name+".log")
	}
	logger, closeLog, err := logging.WithFile(logger, logPath)
	if err != nil {
		return false, err
	}
	defer func() {
		if err := closeLog(); err != nil {
			e.logger.Warn("failed to close crawl log", zap.Error(err))
		}
	}()

	start := time.Now()
	defer func() { metrics.ObserveCrawlDuration(time.Since(start).Seconds()) }()

	fetched := 0
	for _, startURL := range uniqueStartURLs(spec.URLs) {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("crawl %s: %w", spec.Name, err)
		}
		n, err := e.crawlSite(ctx, spec, startURL, filter, logger)
		if err != nil {
			return false, err
		}
		fetched += n
	}
	logger.Info("crawl finished", zap.Int("pages", fetched), zap.Duration("elapsed", time.Since(start)))
	return fetched > 0, nil
}

type siteCrawl struct {
	ctx       context.Context
	filter    *linkFilter
	pipelines []pipeline
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
	fetched   int
	sinkErr   error
}

func (e *CollyEngine) crawlSite(ctx context.Context, spec Specification, startURL string, filter *linkFilter, logger *zap.Logger) (int, error) {
	parsed, err := url.Parse(startURL)
	if err != nil || parsed.Hostname() == "" {
		logger.Warn("skipping invalid start url", zap.String("url", startURL))
		return 0, nil
	}
	name := URLToFilename(startURL)
	logger = logger.With(zap.String("site", name))

	pipes, err := buildPipelines(spec, name, logger)
	if err != nil {
		return 0, err
	}
	site := &siteCrawl{ctx: ctx, filter: filter, pipelines: pipes, limiter: e.limiter, logger: logger}

	for _, p := range pipes {
		if err := p.Open(); err != nil {
			return 0, err
		}
	}
	logger.Info("opening site crawl", zap.String("url", startURL))

	collector := e.newCollector(parsed.Hostname())
	site.attach(collector, spec)

	if err := collector.Visit(startURL); err != nil {
		logger.Warn("failed to visit start url", zap.String("url", startURL), zap.Error(err))
	}
	collector.Wait()

	var closeErrs []error
	for _, p := range pipes {
		if err := p.Close(); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}
	logger.Info("closing site crawl", zap.Int("pages", site.fetched))
	if site.sinkErr != nil {
		return site.fetched, site.sinkErr
	}
	if err := errors.Join(closeErrs...); err != nil {
		return site.fetched, err
	}
	return site.fetched, nil
}

func (e *CollyEngine) newCollector(host string) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.MaxDepth(e.cfg.MaxDepth+1),
		colly.UserAgent(e.cfg.UserAgent),
		colly.Async(false),
	)
	collector.IgnoreRobotsTxt = !e.cfg.RespectRobots
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(e.cfg.RequestTimeout)
	return collector
}

func (s *siteCrawl) attach(collector *colly.Collector, spec Specification) {
	collector.OnRequest(func(r *colly.Request) {
		if s.ctx.Err() != nil || s.sinkErr != nil {
			r.Abort()
			return
		}
		if err := s.limiter.Wait(s.ctx, r.URL.String()); err != nil {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", s.handleLink)

	collector.OnResponse(func(r *colly.Response) {
		if r.StatusCode != http.StatusOK || len(r.Body) == 0 {
			s.logger.Warn("skipping response",
				zap.String("url", r.Request.URL.String()),
				zap.Int("status_code", r.StatusCode),
			)
			return
		}
		s.fetched++
		if spec.Parser == ParserRaw && isHTML(r) {
			s.emit(Item{
				URL:   r.Request.URL.String(),
				Depth: r.Request.Depth - 1,
				Body:  append([]byte(nil), r.Body...),
			})
		}
	})

	if spec.Parser != ParserRaw {
		for _, xp := range paragraphXPaths(spec.ParserData) {
			collector.OnXML(xp, func(e *colly.XMLElement) {
				if strings.TrimSpace(e.Text) == "" {
					return
				}
				s.emit(Item{
					URL:     e.Request.URL.String(),
					Content: e.Text,
					Depth:   e.Request.Depth - 1,
				})
			})
		}
	}

	collector.OnError(s.handleError)
}

func (s *siteCrawl) handleLink(e *colly.HTMLElement) {
	link := e.Request.AbsoluteURL(e.Attr("href"))
	if link == "" {
		return
	}
	if ok, reason := s.filter.Allow(link); !ok {
		s.logger.Debug("not allowed", zap.String("url", link), zap.String("reason", reason))
		return
	}
	if err := e.Request.Visit(link); err != nil {
		// Revisits, foreign hosts, depth and robots refusals all land here.
		s.logger.Debug("link skipped", zap.String("url", link), zap.Error(err))
	}
}

func (s *siteCrawl) handleError(r *colly.Response, err error) {
	msg := "request failed"
	switch r.StatusCode {
	case http.StatusTooManyRequests:
		msg = "rate limited"
	case http.StatusForbidden:
		msg = "forbidden"
	}
	s.logger.Warn(msg,
		zap.String("url", r.Request.URL.String()),
		zap.Int("status_code", r.StatusCode),
		zap.Error(err),
	)
}

func (s *siteCrawl) emit(item Item) {
	if s.sinkErr != nil {
		return
	}
	for _, p := range s.pipelines {
		if err := p.Process(item); err != nil {
			s.sinkErr = err
			s.logger.Error("pipeline failed", zap.String("url", item.URL), zap.Error(err))
			return
		}
	}
}

func isHTML(r *colly.Response) bool {
	return strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "text/html")
}

func paragraphXPaths(data map[string]any) []string {
	raw, ok := data["xpaths"].([]any)
	if !ok || len(raw) == 0 {
		return defaultXPaths
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultXPaths
	}
	return out
}

// buildPipelines instantiates the specification's pipelines, lowest priority
// value first.
func buildPipelines(spec Specification, name string, logger *zap.Logger) ([]pipeline, error) {
	names := make([]string, 0, len(spec.Pipelines))
	for key := range spec.Pipelines {
		names = append(names, key)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := spec.Pipelines[names[i]], spec.Pipelines[names[j]]
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	out := make([]pipeline, 0, len(names))
	for _, key := range names {
		switch Canonical(key) {
		case PipelineParagraphCSV:
			out = append(out, newParagraphCSVSink(spec.Output, name, logger))
		case PipelineRawHTML:
			out = append(out, newRawHTMLSink(spec.Output, name, logger))
		default:
			return nil, fmt.Errorf("%w: pipeline %q", ErrUnknownComponent, key)
		}
	}
	return out, nil
}
