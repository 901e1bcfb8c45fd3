package daemon

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

func (d *Daemon) startWeb() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleDashboard)
	mux.HandleFunc("/api/status", d.handleAPIStatus)
	mux.HandleFunc("/api/logs", d.handleAPILogs)
	mux.HandleFunc("/api/logs/stream", d.handleAPILogsStream)
	mux.HandleFunc("/wallet.png", d.handleWalletQR)

	port := d.findAvailablePort(d.cfg.Web.BasePort, d.cfg.Web.BasePort+100)
	if port == 0 {
		d.log.Warn("No available port in range %d-%d, web UI disabled", d.cfg.Web.BasePort, d.cfg.Web.BasePort+100)
		return
	}

	addr := fmt.Sprintf(":%d", port)
	d.webPort = port
	d.log.Info("Dashboard on http://localhost:%d", port)

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			d.log.Error("Web server error: %v", err)
		}
	}()
}

func (d *Daemon) findAvailablePort(from, to int) int {
	for port := from; port < to; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			ln.Close()
			return port
		}
	}
	return 0
}

func (d *Daemon) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	snap := d.store.Read()

	status := map[string]interface{}{
		"wallet":       d.cfg.Wallet.Address,
		"model":        d.cfg.Groq.Model,
		"unresolved":   len(snap.UnresolvedMentions),
		"handled":      len(snap.HandledTweetIDs),
		"negotiations": len(snap.Negotiations),
		"jobs":         len(snap.Jobs),
		"port":         d.webPort,
		"uptime":       time.Since(d.startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

func (d *Daemon) handleAPILogs(w http.ResponseWriter, r *http.Request) {
	entries := d.log.Entries()

	type jsonEntry struct {
		Time    string `json:"time"`
		Level   string `json:"level"`
		Message string `json:"message"`
	}

	out := make([]jsonEntry, len(entries))
	for i, e := range entries {
		out[i] = jsonEntry{
			Time:    e.Time.Format("15:04:05"),
			Level:   e.Level.String(),
			Message: e.Message,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleAPILogsStream sends logs as SSE (Server-Sent Events).
func (d *Daemon) handleAPILogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := d.log.Subscribe()
	defer d.log.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-ch:
			data, _ := json.Marshal(map[string]string{
				"time":    entry.Time.Format("15:04:05"),
				"level":   entry.Level.String(),
				"message": entry.Message,
			})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (d *Daemon) handleWalletQR(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Write(d.walletPNG)
}

func (d *Daemon) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
<title>Sales Agent</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "SF Mono", monospace; background: #0d1117; color: #c9d1d9; padding: 20px; }
  h1 { font-size: 1.3em; margin-bottom: 16px; color: #58a6ff; }
  .status { display: flex; gap: 24px; margin-bottom: 20px; flex-wrap: wrap; }
  .badge { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 12px 16px; }
  .badge .label { font-size: 0.75em; color: #8b949e; text-transform: uppercase; margin-bottom: 4px; }
  .badge .value { font-size: 1.1em; }
  .wallet { font-size: 0.85em; word-break: break-all; }
  #logs { background: #161b22; border: 1px solid #30363d; border-radius: 8px; padding: 16px; height: calc(100vh - 220px); overflow-y: auto; font-size: 0.85em; line-height: 1.6; }
  .log-line { white-space: pre-wrap; word-break: break-all; }
  .log-time { color: #484f58; }
  .log-INFO { color: #c9d1d9; }
  .log-WARN { color: #d29922; }
  .log-ERROR { color: #f85149; }
  .log-DEBUG { color: #8b949e; }
</style>
</head>
<body>
<h1>💰 Sales Agent</h1>
<div class="status">
  <div class="badge"><div class="label">Wallet</div><div class="value wallet">%s <a href="/wallet.png">QR</a></div></div>
  <div class="badge"><div class="label">Backlog</div><div class="value" id="unresolved">—</div></div>
  <div class="badge"><div class="label">Negotiations</div><div class="value" id="negotiations">—</div></div>
  <div class="badge"><div class="label">Jobs</div><div class="value" id="jobs">—</div></div>
  <div class="badge"><div class="label">Uptime</div><div class="value" id="uptime">—</div></div>
</div>
<div id="logs"></div>
<script>
const logsEl = document.getElementById('logs');

// Load existing logs
fetch('/api/logs').then(r => r.json()).then(logs => {
  logs.forEach(addLog);
  logsEl.scrollTop = logsEl.scrollHeight;
});

// Stream new logs
const es = new EventSource('/api/logs/stream');
es.onmessage = (e) => {
  const log = JSON.parse(e.data);
  addLog(log);
  logsEl.scrollTop = logsEl.scrollHeight;
};

// Poll status
setInterval(async () => {
  try {
    const r = await fetch('/api/status');
    const s = await r.json();
    document.getElementById('unresolved').textContent = s.unresolved;
    document.getElementById('negotiations').textContent = s.negotiations;
    document.getElementById('jobs').textContent = s.jobs;
    document.getElementById('uptime').textContent = s.uptime;
  } catch {}
}, 3000);

function addLog(log) {
  const div = document.createElement('div');
  div.className = 'log-line log-' + log.level;
  div.textContent = log.time + ' ' + log.message;
  logsEl.appendChild(div);
}
</script>
</body>
</html>`, d.cfg.Wallet.Address)
}
