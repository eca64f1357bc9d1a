package notify

import (
	htmltpl "html/template"
	texttpl "text/template"
)

var otpHTML = htmltpl.Must(htmltpl.New("otp.html").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Usá este código para ingresar a <strong>{{.TenantName}}</strong>:</p>
<p style="font-size:28px;letter-spacing:6px"><strong>{{.Code}}</strong></p>
<p>Vence en {{.Minutes}} minutos. Si no lo pediste, ignorá este email.</p>
</body></html>`))

var otpText = texttpl.Must(texttpl.New("otp.txt").Parse(`Tu código para ingresar a {{.TenantName}}: {{.Code}}

Vence en {{.Minutes}} minutos. Si no lo pediste, ignorá este email.
`))

var inviteHTML = htmltpl.Must(htmltpl.New("invite.html").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>{{.InviterName}} te invitó a unirte a <strong>{{.TenantName}}</strong>.</p>
<p><a href="{{.Link}}">Aceptar invitación</a></p>
</body></html>`))

var inviteText = texttpl.Must(texttpl.New("invite.txt").Parse(`{{.InviterName}} te invitó a unirte a {{.TenantName}}.

Aceptá la invitación en: {{.Link}}
`))
