package email

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"net/smtp"
	"sort"
)

type Sender struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

func NewSender(host, port, username, password, from string) *Sender {
	return &Sender{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		From:     from,
	}
}

const unreadTemplate = `
<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
        .content { padding: 20px; }
        .button { display: inline-block; padding: 10px 20px; background-color: #03dac6; color: black; text-decoration: none; border-radius: 4px; font-weight: bold; }
    </style>
</head>
<body>
    <div class="container">
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>You have {{.Count}} unread {{if eq .Count 1}}message{{else}}messages{{end}} waiting in your inbox.</p>
            <p style="text-align: center;">
                <a href="{{.Link}}" class="button">Read messages</a>
            </p>
        </div>
    </div>
</body>
</html>
`

var unread = template.Must(template.New("unread").Parse(unreadTemplate))

func unreadSubject(count int) string {
	if count == 1 {
		return "You have an unread message"
	}
	return fmt.Sprintf("You have %d unread messages", count)
}

func (s *Sender) SendUnreadNotification(to, name string, count int, link string) error {
	var body bytes.Buffer
	if err := unread.Execute(&body, map[string]interface{}{"Name": name, "Count": count, "Link": link}); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	// Email headers
	headers := map[string]string{
		"From":         s.From,
		"To":           to,
		"Subject":      unreadSubject(count),
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=\"UTF-8\"",
	}

	// No SMTP host means development mode: log instead of sending.
	if s.Host == "" {
		log.Printf("mock email to %s: %s (%s)", to, headers["Subject"], link)
		return nil
	}

	return smtp.SendMail(fmt.Sprintf("%s:%s", s.Host, s.Port),
		smtp.PlainAuth("", s.Username, s.Password, s.Host),
		s.From, []string{to}, buildMessage(headers, body.Bytes()))
}

func buildMessage(headers map[string]string, body []byte) []byte {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var msg bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&msg, "%s: %s\r\n", k, headers[k])
	}
	msg.WriteString("\r\n")
	msg.Write(body)
	return msg.Bytes()
}
