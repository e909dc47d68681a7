// Package monitoring implements eemaild's optional HTTP monitoring server:
// an index page, expvar counters, and x/net/trace's live request viewer.
package monitoring

import (
	"expvar"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"time"

	"blitiri.com.ar/go/log"

	// Registers "/debug/requests" and "/debug/events" on the default
	// ServeMux as a side effect of being imported.
	_ "golang.org/x/net/trace"
)

var (
	startTime = time.Now()

	versionVar = expvar.NewString("eemaild/version")
)

// Version is the build version string, set by the caller before Launch.
var Version = "undefined"

// Launch starts the monitoring HTTP server on addr. It does not return;
// callers should run it in its own goroutine.
func Launch(addr, hostname string) {
	versionVar.Set(Version)

	log.Infof("Monitoring HTTP server listening on %s", addr)

	indexData := struct {
		Version   string
		GoVersion string
		StartTime time.Time
		Hostname  string
	}{
		Version:   Version,
		GoVersion: runtime.Version(),
		StartTime: startTime,
		Hostname:  hostname,
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if err := indexTmpl.Execute(w, indexData); err != nil {
			log.Infof("monitoring handler error: %v", err)
		}
	})
	http.HandleFunc("/exit", exitHandler)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("Monitoring server failed: %v", err)
	}
}

func exitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Use POST method for exiting", http.StatusMethodNotAllowed)
		return
	}

	log.Infof("Received /exit")
	http.Error(w, "OK exiting", http.StatusOK)
	go os.Exit(0)
}

var tmplFuncs = template.FuncMap{
	"since":         time.Since,
	"roundDuration": func(d time.Duration) time.Duration { return d.Round(time.Second) },
}

var indexTmpl = template.Must(template.New("index").Funcs(tmplFuncs).Parse(
	`<!DOCTYPE html>
<html>
<head>
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Hostname}}: eemaild monitoring</title>
<style type="text/css">
  body { font-family: sans-serif; }
  @media (prefers-color-scheme: dark) {
    body { background: #121212; color: #c9d1d9; }
    a { color: #44b4ec; }
  }
</style>
</head>
<body>
<h1>eemaild @{{.Hostname}}</h1>
<p>
eemaild {{.Version}}<br>
built with {{.GoVersion}}<br>
</p>
<p>
started {{.StartTime.Format "Mon, 2006-01-02 15:04:05 -0700"}}<br>
up for {{.StartTime | since | roundDuration}}<br>
</p>
<ul>
  <li><a href="/debug/requests">requests</a>
  <li><a href="/debug/events">events</a>
  <li><a href="/debug/vars">expvar</a>
</ul>
</body>
</html>
`))
