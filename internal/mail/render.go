package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Template is an unrendered message. Each part is a Go template evaluated
// against per-recipient data; HTML is escaped contextually.
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Render evaluates tpl for one recipient. The returned message has no To.
func Render(tpl Template, data any) (Message, error) {
	subject, err := renderText("subject", tpl.Subject, data)
	if err != nil {
		return Message{}, err
	}
	text, err := renderText("text", tpl.Text, data)
	if err != nil {
		return Message{}, err
	}
	html, err := renderHTML(tpl.HTML, data)
	if err != nil {
		return Message{}, err
	}
	subject = strings.Join(strings.Fields(subject), " ")
	if subject == "" {
		return Message{}, fmt.Errorf("render subject: empty")
	}
	if strings.TrimSpace(text) == "" && strings.TrimSpace(html) == "" {
		return Message{}, fmt.Errorf("render body: empty")
	}
	return Message{Subject: subject, HTML: html, Text: text}, nil
}

func renderText(name, src string, data any) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	t, err := texttemplate.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderHTML(src string, data any) (string, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	t, err := htmltemplate.New("html").Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return buf.String(), nil
}
