package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/LJTian/Newsy/internal/digest"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

const (
	verifyPath      = "/api/subscriptions/verify"
	unsubscribePath = "/api/subscriptions/unsubscribe"

	// VerificationSubject 验证邮件标题
	VerificationSubject = "Confirm your Newsy subscription"
)

type newsletterData struct {
	Title          string
	Articles       []digest.Entry
	UnsubscribeURL string
}

type verificationData struct {
	Email     string
	VerifyURL string
}

// Renderer 负责拼接链接并渲染邮件正文
type Renderer struct {
	BaseURL string
}

func (r Renderer) link(path, token string) string {
	base := strings.TrimRight(r.BaseURL, "/")
	return base + path + "?token=" + url.QueryEscape(token)
}

func (r Renderer) VerifyURL(token string) string {
	return r.link(verifyPath, token)
}

func (r Renderer) UnsubscribeURL(token string) string {
	return r.link(unsubscribePath, token)
}

func (r Renderer) Newsletter(subject string, entries []digest.Entry, token string) (string, error) {
	return render("newsletter.html", newsletterData{
		Title:          subject,
		Articles:       entries,
		UnsubscribeURL: r.UnsubscribeURL(token),
	})
}

func (r Renderer) Verification(email, token string) (string, error) {
	return render("verification.html", verificationData{
		Email:     email,
		VerifyURL: r.VerifyURL(token),
	})
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("mailer: render %s: %w", name, err)
	}
	return buf.String(), nil
}
