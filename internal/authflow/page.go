// ABOUTME: Renders the consent page shown before redirecting to GitHub
// ABOUTME: html/template shell with goldmark-rendered markdown body copy

package authflow

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
)

type approvalPage struct {
	tmpl *template.Template
	body template.HTML
}

type approvalData struct {
	ClientName   string
	ClientID     string
	RedirectHost string
	Scope        string
	State        string
	Body         template.HTML
}

func loadApprovalPage() (*approvalPage, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/approve.html")
	if err != nil {
		return nil, fmt.Errorf("parsing approval template: %w", err)
	}
	md, err := templateFS.ReadFile("templates/approve.md")
	if err != nil {
		return nil, fmt.Errorf("reading approval copy: %w", err)
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(md, &buf); err != nil {
		return nil, fmt.Errorf("rendering approval copy: %w", err)
	}
	// The markdown is compiled into the binary, never user supplied.
	return &approvalPage{tmpl: tmpl, body: template.HTML(buf.String())}, nil
}

func (p *approvalPage) render(w io.Writer, req *AuthRequest, clientName, state string) error {
	host := req.RedirectURI
	if u, err := url.Parse(req.RedirectURI); err == nil && u.Host != "" {
		host = u.Host
	}
	if clientName == "" {
		clientName = "An application"
	}
	return p.tmpl.Execute(w, approvalData{
		ClientName:   clientName,
		ClientID:     req.ClientID,
		RedirectHost: host,
		Scope:        strings.Join(req.Scope, " "),
		State:        state,
		Body:         p.body,
	})
}
