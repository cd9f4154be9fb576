package dashboard

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>calsync</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body { font-family: 'Inter', -apple-system, system-ui, sans-serif; background: #0f172a; color: #e2e8f0; min-height: 100vh; }
        .header { background: linear-gradient(135deg, #1e293b, #334155); padding: 1.5rem 2rem; border-bottom: 1px solid #475569; display: flex; justify-content: space-between; align-items: center; }
        .header h1 { font-size: 1.5rem; color: #38bdf8; }
        .header .status { padding: 0.5rem 1rem; border-radius: 9999px; font-size: 0.875rem; font-weight: 600; }
        .status.running { background: #166534; color: #4ade80; }
        .status.idle { background: #854d0e; color: #fde047; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 1rem; padding: 2rem; }
        .card { background: #1e293b; border: 1px solid #334155; border-radius: 12px; padding: 1.25rem; }
        .card .label { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.05em; color: #94a3b8; margin-bottom: 0.5rem; }
        .card .value { font-size: 1.75rem; font-weight: 700; color: #f1f5f9; }
        .card.success .value { color: #4ade80; }
        .card.error .value { color: #f87171; }
        section { padding: 0 2rem 2rem; }
        h2 { font-size: 1rem; color: #94a3b8; margin-bottom: 0.75rem; }
        table { width: 100%; border-collapse: collapse; font-size: 0.875rem; }
        th, td { text-align: left; padding: 0.5rem; border-bottom: 1px solid #334155; }
        th { color: #94a3b8; font-weight: 500; }
        progress { width: 10rem; }
    </style>
</head>
<body>
    <div class="header">
        <h1>calsync</h1>
        <span class="status idle" id="status">idle</span>
    </div>
    <div class="grid">
        <div class="card"><div class="label">Runs Started</div><div class="value" id="runs_started">0</div></div>
        <div class="card success"><div class="label">Runs Completed</div><div class="value" id="runs_completed">0</div></div>
        <div class="card error"><div class="label">Runs Failed</div><div class="value" id="runs_failed">0</div></div>
        <div class="card"><div class="label">Pools Processed</div><div class="value" id="pools_processed">0</div></div>
        <div class="card error"><div class="label">Pools Failed</div><div class="value" id="pools_failed">0</div></div>
        <div class="card success"><div class="label">Matches Stored</div><div class="value" id="matches_stored">0</div></div>
        <div class="card success"><div class="label">Events Published</div><div class="value" id="events_published">0</div></div>
    </div>
    <section>
        <h2>Sessions</h2>
        <table><thead><tr><th>Session</th><th>Season</th><th>Status</th><th>Pools</th><th>Matches</th><th>Message</th></tr></thead><tbody id="sessions"></tbody></table>
    </section>
    <section>
        <h2>Recent runs</h2>
        <table><thead><tr><th>Started</th><th>Session</th><th>Status</th><th>Matches</th><th>Message</th></tr></thead><tbody id="runs"></tbody></table>
    </section>
    <script>
        function esc(s) { const d = document.createElement('div'); d.textContent = s == null ? '' : String(s); return d.innerHTML; }
        async function refresh() {
            try {
                const r = await fetch('/dashboard/stats');
                const d = await r.json();
                const st = document.getElementById('status');
                st.textContent = d.state;
                st.className = 'status ' + d.state;
                Object.keys(d.counters || {}).forEach(k => {
                    const el = document.getElementById(k);
                    if (el) el.textContent = Number(d.counters[k]).toLocaleString();
                });
                document.getElementById('sessions').innerHTML = (d.sessions || []).map(s =>
                    '<tr><td>' + esc(s.session_id) + '</td><td>' + esc(s.season) + '</td><td>' + esc(s.status) +
                    '</td><td><progress max="' + (s.pools_total || 1) + '" value="' + s.pools_processed + '"></progress> ' +
                    s.pools_processed + '/' + s.pools_total + '</td><td>' + s.matches_total + '</td><td>' + esc(s.message) + '</td></tr>').join('');
                document.getElementById('runs').innerHTML = (d.runs || []).map(l =>
                    '<tr><td>' + esc(new Date(l.start_datetime).toLocaleString()) + '</td><td>' + esc(l.session_id) + '</td><td>' +
                    esc(l.status) + '</td><td>' + l.total_matches + '</td><td>' + esc(l.message) + '</td></tr>').join('');
            } catch(e) {}
        }
        setInterval(refresh, 2000);
        refresh();
    </script>
</body>
</html>`
