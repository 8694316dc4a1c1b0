package guildconfig

import "html/template"

var pages = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Community.Name}} settings</title></head>
<body>
<h1>{{if .Community.Name}}{{.Community.Name}}{{else}}{{.Community.ID}}{{end}}</h1>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{if .Saved}}<p class="saved">Settings saved.</p>{{end}}
<form method="post" action="/config/{{.Community.ID}}">
  <label>Verification role ID <input name="roleId" value="{{.Config.RoleID}}" inputmode="numeric"></label>
  <label><input type="checkbox" name="logToChannel" {{if .Config.LogToChannel}}checked{{end}}> Log moderation actions to a channel</label>
  <label>Log channel ID <input name="logChannelId" value="{{.Config.LogChannelID}}" inputmode="numeric"></label>
  <button type="submit">Save</button>
</form>
</body>
</html>
`))

type formPage struct {
	Community Community
	Config    Config
	Error     string
	Saved     bool
}
