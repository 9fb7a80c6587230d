package web

import (
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/sweeney/kiosk-control/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"fact": func(v any) string {
		if ts, ok := v.(time.Time); ok {
			return ts.UTC().Format(time.RFC3339)
		}
		return fmt.Sprint(v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Kiosk Control</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.alert { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Kiosk Control</h1>

<h2>Screen</h2>
<table>
<tr><th>Power</th><td class="{{if .ScreenOn}}on{{else}}off{{end}}">{{if .ScreenOn}}ON{{else}}OFF{{end}}</td></tr>
<tr><th>Reason</th><td class="{{if eq (printf "%s" .Why) "nightscout_alert"}}alert{{end}}">{{.Why}}</td></tr>
<tr><th>View</th><td>{{.View}}</td></tr>
<tr><th>Playlist index</th><td>{{.PlaylistIndex}}</td></tr>
<tr><th>Manual override</th><td>{{if .Manual}}{{.ManualView}} until {{.ManualUntil.UTC.Format "15:04:05Z"}}{{else}}none{{end}}</td></tr>
<tr><th>Forced sleep</th><td>{{if .ForcedSleep}}yes{{else}}no{{end}}</td></tr>
<tr><th>Inhibit</th><td>{{range $i, $r := .Inhibit}}{{if $i}}, {{end}}{{$r}}{{else}}none{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Facts</h2>
<table>
{{range .FactKeys}}<tr><th>{{.}}</th><td>{{fact (index $.Facts .)}}</td></tr>
{{else}}<tr><td>none</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Screen on</th><td>{{.Counts.ScreenOn}}</td></tr>
<tr><th>Screen off</th><td>{{.Counts.ScreenOff}}</td></tr>
<tr><th>Navigations</th><td>{{.Counts.Navigations}}</td></tr>
<tr><th>Navigation errors</th><td>{{.Counts.NavigationErrors}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Plugins</th><td>{{range $i, $p := .Config.Plugins}}{{if $i}}, {{end}}{{$p}}{{else}}none{{end}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	keys := make([]string, 0, len(snap.Facts))
	for k := range snap.Facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Manual   bool
		FactKeys []string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Manual:   snap.ManualActive(snap.Now),
		FactKeys: keys,
	}
	indexTmpl.Execute(w, data)
}
