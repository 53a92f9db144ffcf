package crawler

// Item is one unit of parsed output handed to pipelines.
type Item struct {
	URL     string
	Content string
	Depth   int
	// Body holds the raw response for the raw parser; it is nil for paragraphs.
	Body []byte
}

// pipeline receives the items of one site crawl. Open is called before the
// first request and Close after the last, even when the crawl failed.
type pipeline interface {
	Open() error
	Process(item Item) error
	Close() error
}
