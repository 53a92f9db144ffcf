// Command crawlq runs crawl workers, submits crawl tasks and publishes crawl
// results over RabbitMQ.
//
// Configure it with a config file (--config) and CRAWLER_* environment
// variables, e.g. CRAWLER_BROKER_HOST, CRAWLER_BROKER_TASK_QUEUE,
// CRAWLER_FINALIZER_MAX_CHUNK_BYTES.
package main

import "github.com/JakeFAU/crawl-broker/cmd"

func main() {
	cmd.Execute()
}
