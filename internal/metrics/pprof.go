package metrics

import (
	"net/http"
	hpprof "net/http/pprof"
)

const pprofPrefix = "/debug/pprof/"

// mountPprof registers the runtime profiles on mux. hpprof.Index serves the
// named profiles (heap, goroutine, ...) below the prefix.
func mountPprof(mux *http.ServeMux) {
	mux.HandleFunc(pprofPrefix, hpprof.Index)
	mux.HandleFunc(pprofPrefix+"cmdline", hpprof.Cmdline)
	mux.HandleFunc(pprofPrefix+"profile", hpprof.Profile)
	mux.HandleFunc(pprofPrefix+"symbol", hpprof.Symbol)
	mux.HandleFunc(pprofPrefix+"trace", hpprof.Trace)
}
