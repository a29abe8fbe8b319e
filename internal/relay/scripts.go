package relay

// Script fragments executed inside the sandbox. Every transport settles through
// post(), which lets exactly one message leave per request.

const scriptPrelude = `
  var settled = false;
  function post(msg) {
    if (settled) { return; }
    settled = true;
    channel.postMessage(JSON.stringify(msg));
  }
  function succeed(status, text) {
    var data = text;
    if (typeof text === 'string') {
      if (text.length === 0) {
        data = null;
      } else {
        try { data = JSON.parse(text); } catch (e) { data = text; }
      }
    }
    post({ type: d.ns + ':success', id: d.id, status: status, data: data });
  }
  function fail(err, code) {
    var msg = err && err.message ? err.message : String(err);
    var out = { type: d.ns + ':error', id: d.id, message: msg };
    if (code) { out.code = code; }
    post(out);
  }
  function headerObject() {
    var h = {};
    for (var i = 0; i < d.headers.length; i++) { h[d.headers[i].name] = d.headers[i].value; }
    return h;
  }
  function settle(request) {
    request.then(function (res) {
      return res.text().then(function (text) { succeed(res.status, text); });
    }).catch(function (e) { fail(e); });
  }
`

const scriptStandard = `
    var init = { method: d.method, headers: headerObject(), credentials: 'include' };
    if (d.body !== null && d.body !== undefined) { init.body = d.body; }
    settle(fetch(d.url, init));
`

const scriptGetWithBody = `
    var xhr = new XMLHttpRequest();
    xhr.open(d.method, d.url, true);
    xhr.withCredentials = true;
    for (var i = 0; i < d.headers.length; i++) {
      xhr.setRequestHeader(d.headers[i].name, d.headers[i].value);
    }
    xhr.onload = function () { succeed(xhr.status, xhr.responseText); };
    xhr.onerror = function () { fail(new Error('network request failed')); };
    xhr.ontimeout = function () { fail(new Error('network request timed out')); };
    xhr.send(d.body);
`

const scriptMultipart = `
    function conversionError(part, reason) {
      var err = new Error('failed to convert file "' + part.originalName + '": ' + reason);
      err.code = 'FILE_CONVERSION_FAILED';
      return err;
    }
    function toBlob(part) {
      var bin;
      try {
        bin = atob(part.content);
      } catch (e) {
        throw conversionError(part, e && e.message ? e.message : String(e));
      }
      if (d.maxFileBytes > 0 && bin.length > d.maxFileBytes) {
        throw conversionError(part, 'file exceeds ' + d.maxFileBytes + ' bytes');
      }
      var bytes = new Uint8Array(bin.length);
      for (var i = 0; i < bin.length; i++) { bytes[i] = bin.charCodeAt(i); }
      return new Blob([bytes], { type: part.mimeType });
    }
    var form = new FormData();
    for (var p = 0; p < d.parts.length; p++) {
      var part = d.parts[p];
      if (part.kind === 'json') {
        form.append(part.field, new Blob([part.content], { type: 'application/json' }), part.fileName);
      } else {
        form.append(part.field, toBlob(part), part.fileName);
      }
    }
    settle(fetch(d.url, { method: d.method, headers: headerObject(), body: form, credentials: 'include' }));
`

const scriptReadinessProbe = `(function () {
  var channel = %s;
  if (channel && typeof channel.postMessage === 'function') {
    channel.postMessage(JSON.stringify({ type: 'bridge-ready' }));
  }
})();`
