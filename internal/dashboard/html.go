package dashboard

const indexHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <title>Smart Care Dashboard</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <link rel="stylesheet" href="/assets/dashboard.css">
</head>
<body>
    <div class="app">
        <div class="header">
            <div>
                <p class="eyebrow">スマートケア・ダッシュボード</p>
                <div class="title">Smart Elderly · Live Status</div>
            </div>
            <span class="badge" id="updated-badge">Last Updated: <b id="updated-at">--</b></span>
        </div>

        <div class="grid">
            <div class="panel camera">
                <div class="panel-head">
                    <h2>Webcam Monitor</h2>
                    <div class="row">
                        <span class="badge badge-disconnected" id="stream-badge">● Disconnected</span>
                        <button type="button" id="btn-refresh" title="Refresh stream">Refresh</button>
                    </div>
                </div>
                <div class="frame">
                    <img id="camera" alt="Live camera stream">
                    <div class="frame-error" id="camera-error" hidden>
                        <p class="error-title">Camera stream unavailable</p>
                        <p class="muted">The camera could not be reached.</p>
                        <button type="button" id="btn-retry">Retry Connection</button>
                    </div>
                </div>
                <div class="analysis" id="analysis-panel">
                    <div class="panel-head">
                        <h3>Fall Detection</h3>
                        <div class="row">
                            <label class="toggle"><input type="checkbox" id="auto-check"> Auto check</label>
                            <button type="button" id="btn-check">Check now</button>
                        </div>
                    </div>
                    <p id="analysis-state" class="muted">No analysis yet.</p>
                    <p class="muted">Falls today: <b id="today-falls">0</b> · total: <b id="total-falls">0</b></p>
                </div>
            </div>

            <div class="cards">
                <div class="card temperature" data-tip="Current room temperature in Celsius | Optimal range: 20-26°C">
                    <p class="label">Temperature</p><p class="value" id="temperature">--</p>
                </div>
                <div class="card humidity" data-tip="Air moisture level | Comfortable humidity: 40-70%">
                    <p class="label">Humidity</p><p class="value" id="humidity">--</p>
                </div>
                <div class="card flame" data-tip="Flame detection sensor (KY-026) | Alerts if fire/flame detected in area">
                    <p class="label">Flame</p><p class="value" id="flame">--</p>
                </div>
                <div class="card vibration" data-tip="Vibration detection sensor (KY-002) | Detects falls or unusual movements">
                    <p class="label">Vibration</p><p class="value" id="vibration">--</p>
                </div>
                <div class="card light" data-tip="Ambient light level">
                    <p class="label">Light</p><p class="value" id="light">--</p>
                </div>
                <div class="card sound" data-tip="Ambient sound level">
                    <p class="label">Sound</p><p class="value" id="sound">--</p>
                </div>
            </div>
        </div>
    </div>
    <script src="/assets/dashboard.js"></script>
</body>
</html>
`
