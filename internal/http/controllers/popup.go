package controllers

import (
	"crypto/rand"
	"encoding/base64"
	"html/template"
	"net/http"
)

// popupTmpl avisa al opener (misma origin) y cierra la ventana. Sin opener,
// navega al callback path.
var popupTmpl = template.Must(template.New("popup").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>Signing in</title></head>
<body>
<script nonce="{{.Nonce}}">
(function () {
  var next = {{.Next}};
  if (window.opener && !window.opener.closed) {
    window.opener.postMessage({type: "crossauth:login", ok: true, next: next}, window.location.origin);
    window.close();
    return;
  }
  window.location.replace(next);
})();
</script>
</body></html>
`))

type popupVars struct {
	Nonce string
	Next  string
}

func renderPopup(w http.ResponseWriter, next string) {
	var b [16]byte
	_, _ = rand.Read(b[:])
	nonce := base64.RawStdEncoding.EncodeToString(b[:])

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", "default-src 'none'; script-src 'nonce-"+nonce+"'; frame-ancestors 'none'; base-uri 'none'")
	w.WriteHeader(http.StatusOK)
	_ = popupTmpl.Execute(w, popupVars{Nonce: nonce, Next: next})
}
