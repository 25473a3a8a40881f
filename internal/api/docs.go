package api

// docsHTML serves the OpenAPI reference with a short summary of the run
// endpoints above it.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>FitStar Utilization Scheduler API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { height: 100vh; margin: 0; display: flex; flex-direction: column; background: #1a1a1a; color: #ddd; font-family: sans-serif; }
    #run-summary { padding: 8px 16px; font-size: 13px; border-bottom: 1px solid #333; }
    #run-summary code { color: #8fd19e; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header id="run-summary">
    <strong>FitStar utilization scheduler</strong>:
    scrapes studio load on a fixed interval and writes it to InfluxDB.
    <code>POST /api/v1/runs</code> starts a run now (202, or 409 while one is in progress),
    <code>GET /api/v1/runs/current</code> shows the running one and
    <code>GET /api/v1/runs/last</code> the last finished run (404 before the first).
  </header>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
