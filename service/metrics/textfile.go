package metrics

import "github.com/prometheus/client_golang/prometheus"

// WriteTextfile dumps every metric gathered by g to path in the node_exporter
// textfile format. CLI runs are short lived, so this replaces a scrape endpoint.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, g)
}
