package oauth

import "html/template"

type pageData struct {
	Provider    string
	Error       string
	Description string
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>keysync</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em">
<h2>Signed in{{if .Provider}} to {{.Provider}}{{end}}</h2>
<p>You can close this window and return to keysync.</p>
</body></html>
`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>keysync</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em">
<h2>Sign-in{{if .Provider}} to {{.Provider}}{{end}} failed</h2>
<p><code>{{.Error}}</code>{{if .Description}}: {{.Description}}{{end}}</p>
<p>Return to keysync and try again.</p>
</body></html>
`))
