package snippet

// clientTemplate is the drift monitor as it runs in the browser. Every value
// reaches the script through the js function, which JSON-encodes with HTML
// escaping, so nothing supplied at build time can close the script element.
const clientTemplate = `;(function (w, d) {
  'use strict';
  try {
    var cfg = {{ js .Config }};
    w.version = {{ js .Version }};
    w.version_date = {{ js .CompileTime }};
{{- range .Globals }}
    w[{{ js .Key }}] = {{ js .Value }};
{{- end }}
{{- range .ConsoleLines }}
    try { console.log({{ js . }}); } catch (e) {}
{{- end }}

    var key = cfg.prefix + '_fingerprint';
    var pattern = new RegExp(cfg.pattern, cfg.flags);
    var state = { timer: null, visible: !d.hidden, inFlight: false };

    var log = function (msg, err) {
      try { console.warn('[verdrift] ' + msg, err); } catch (e) {}
    };
    var load = function () {
      try { return w.localStorage.getItem(key); } catch (e) { log('storage read failed', e); return null; }
    };
    var save = function (value) {
      try { w.localStorage.setItem(key, value); } catch (e) { log('storage write failed', e); }
    };
    var extract = function (html) {
      var m = pattern.exec(html);
      return m ? (m[1] || m[2]) : null;
    };

    var promptHandler = function (info) {
      if (w.confirm(cfg.messages.prompt)) {
        w.alert(cfg.messages.success);
        info.apply();
      }
    };
    if (typeof w.onAppUpdate !== 'function') {
      w.onAppUpdate = promptHandler;
    }

    var notify = function (info) {
      var handler = typeof w.onAppUpdate === 'function' ? w.onAppUpdate : promptHandler;
      try { handler(info); } catch (e) { log('update handler failed', e); }
    };

    var checkForUpdates = function () {
      if (state.inFlight) { return Promise.resolve(false); }
      var baseline = load();
      if (!baseline) { return Promise.resolve(false); }
      state.inFlight = true;
      var url = (cfg.url || w.location.href).split('#')[0];
      url += (url.indexOf('?') === -1 ? '?' : '&') + '_t=' + Date.now();
      return w.fetch(url, {
        cache: 'no-store',
        headers: { 'Cache-Control': 'no-cache, no-store, must-revalidate', 'Pragma': 'no-cache', 'Expires': '0' }
      }).then(function (res) {
        if (!res.ok) { throw new Error('HTTP ' + res.status); }
        return res.text();
      }).then(function (html) {
        var latest = extract(html);
        if (!latest || latest === baseline) { return false; }
        notify({
          current: baseline,
          latest: latest,
          apply: function () { save(latest); w.location.reload(); }
        });
        return true;
      })['catch'](function (err) {
        log('update check failed', err);
        return false;
      }).then(function (drifted) {
        state.inFlight = false;
        return drifted;
      });
    };

    var stopChecking = function () {
      if (state.timer !== null) {
        w.clearInterval(state.timer);
        state.timer = null;
      }
    };
    var startChecking = function () {
      if (!cfg.autoStart) { return; }
      stopChecking();
      state.timer = w.setInterval(checkForUpdates, cfg.interval);
    };

    if (cfg.fingerprint && (cfg.seed === 'always' || !load())) {
      save(cfg.fingerprint);
    }

    if (cfg.pauseWhenHidden && typeof d.addEventListener === 'function') {
      d.addEventListener('visibilitychange', function () {
        var visible = !d.hidden;
        if (visible === state.visible) { return; }
        state.visible = visible;
        if (!visible) { stopChecking(); return; }
        checkForUpdates();
        startChecking();
      });
    }

    w.checkForUpdates = checkForUpdates;
    w.verdrift = { check: checkForUpdates, start: startChecking, stop: stopChecking, state: state };

    if (!cfg.pauseWhenHidden || state.visible) {
      startChecking();
    }
  } catch (e) {
    try { console.warn('[verdrift] disabled', e); } catch (ignored) {}
  }
})(window, document);
`
