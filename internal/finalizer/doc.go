// Package finalizer ships the result files of a finished crawl as result
// messages, splitting large CSV files into row chunks that fit a broker
// message, and then clears the crawl's output and log directories.
package finalizer
