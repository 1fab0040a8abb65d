// henkan-server is the conversion server behind henkan-ibus.
//
// It listens on a Unix socket and gives every connection its own
// conversion session. Sessions share the dictionary and the learned
// history database. When metrics.listen is set it also serves Prometheus
// metrics and health endpoints over HTTP.
package main

func main() {
	Execute()
}
