package main

const pageTemplates = `
{{define "header"}}<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}} - uniplay</title>
</head>
<body>
<nav>
{{if .Authenticated}}
<a href="/dashboard">Dashboard</a>
<a href="/games">Games</a>
<a href="/teams">Teams</a>
<a href="/tournaments">Tournaments</a>
<a href="/tournaments/create">New tournament</a>
<a href="/invitations">Invitations</a>
<form method="post" action="/logout"><button type="submit">Log out</button></form>
{{else}}
<a href="/login">Log in</a>
<a href="/register">Register</a>
{{end}}
</nav>
<h1>{{.Title}}</h1>
{{if .Flash}}<p class="flash">{{.Flash}}</p>{{end}}
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{end}}

{{define "footer"}}
</body>
</html>
{{end}}

{{define "login"}}{{template "header" .}}
<form method="post" action="/login">
<label>Username <input name="username" value="{{.Username}}" autofocus></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Log in</button>
</form>
{{template "footer" .}}{{end}}

{{define "register"}}{{template "header" .}}
<form method="post" action="/register">
<label>Username <input name="username" value="{{.Username}}" autofocus></label>
<label>Email <input name="email" type="email"></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Register</button>
</form>
{{template "footer" .}}{{end}}

{{define "tournament_create"}}{{template "header" .}}
<form method="post" action="/tournaments">
<label>Title <input name="title" value="{{.Form.Title}}" autofocus></label>
<label>Game <select name="game">
{{range .Games}}<option value="{{.ID}}"{{if eq .ID $.Form.Game}} selected{{end}}>{{.Name}}</option>
{{end}}</select></label>
<label>Prize pool <input name="prize_pool" value="{{.Form.PrizePool}}"></label>
<label>Start date <input name="start_date" type="date" value="{{.Form.StartDate}}"></label>
<label>Format <select name="bracket_format">
{{range $value, $label := .Formats}}<option value="{{$value}}"{{if eq $value $.Form.Format}} selected{{end}}>{{$label}}</option>
{{end}}</select></label>
<button type="submit">Create</button>
</form>
{{template "footer" .}}{{end}}

{{define "resource"}}{{template "header" .}}
{{range .Sections}}
<section>
<h2>{{.Title}}</h2>
<pre>{{.JSON}}</pre>
</section>
{{end}}
{{range .Invitations}}
<form method="post" action="/invitations/{{.}}/accept"><button type="submit">Accept {{.}}</button></form>
<form method="post" action="/invitations/{{.}}/decline"><button type="submit">Decline {{.}}</button></form>
{{end}}
{{template "footer" .}}{{end}}

{{define "error"}}{{template "header" .}}
{{template "footer" .}}{{end}}
`
