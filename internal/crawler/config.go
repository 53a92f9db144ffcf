package crawler

import "time"

// Config holds engine-wide crawl settings that are not part of a task.
type Config struct {
	UserAgent      string
	MaxDepth       int
	RespectRobots  bool
	RequestTimeout time.Duration
	// DeniedExtensions are link suffixes never followed.
	DeniedExtensions []string

	// RequestsPerSecond caps requests per host; zero means unlimited.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig mirrors the crawl defaults of the task format: depth 5,
// robots.txt obeyed, binary and media links skipped.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "crawl-broker/1.0",
		MaxDepth:         5,
		RespectRobots:    true,
		RequestTimeout:   30 * time.Second,
		DeniedExtensions: defaultDeniedExtensions(),
	}
}

func defaultDeniedExtensions() []string {
	return []string{
		"mng", "pct", "bmp", "gif", "jpg", "jpeg", "png", "pst", "psp", "tif", "tiff", "ai", "drw",
		"dxf", "eps", "ps", "svg", "mp3", "wma", "ogg", "wav", "ra", "aac", "mid", "au", "aiff",
		"3gp", "asf", "asx", "avi", "mov", "mp4", "mpg", "qt", "rm", "swf", "wmv",
		"m4a", "m4v", "flv", "xls", "xlsx", "ppt", "pptx", "pps", "doc", "docx", "odt", "ods",
		"odg", "odp", "css", "exe", "bin", "rss", "zip", "rar", "gz", "tar", "pdf",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.DeniedExtensions == nil {
		c.DeniedExtensions = def.DeniedExtensions
	}
	return c
}
