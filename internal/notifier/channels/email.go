package channels

import (
	"context"
	"encoding/json"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/andrewcho-dev/opsconductor-pulse-sub007/internal/models"
)

type emailConf struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"` // 空时退回事件的 target_value
}

// EmailSender SMTP 邮件投递
type EmailSender struct{}

// NewEmailSender 创建邮件适配器
func NewEmailSender() *EmailSender {
	return &EmailSender{}
}

func (s *EmailSender) Name() string {
	return models.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, conf json.RawMessage, event *models.NotificationEvent) error {
	var c emailConf
	if err := json.Unmarshal(conf, &c); err != nil {
		return fmt.Errorf("invalid email config: %w", err)
	}
	if c.Host == "" || c.From == "" {
		return fmt.Errorf("email config missing host or from")
	}
	if c.Port == 0 {
		c.Port = 587
	}

	to := c.To
	if len(to) == 0 && event.TargetType == models.TargetTypeEmail {
		to = []string{event.TargetValue}
	}
	if len(to) == 0 {
		return fmt.Errorf("email config missing recipients")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", c.From)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", fmt.Sprintf("[pulse] %s alert for device %s (severity %d)",
		event.AlertType, event.DeviceID, event.Severity))
	m.SetBody("text/plain", fmt.Sprintf(
		"Alert:    %s\nDevice:   %s\nSeverity: %d\nLevel:    %d\nEmitted:  %s\n\n%s\n",
		event.AlertType, event.DeviceID, event.Severity, event.Level,
		event.EmittedAt.Format("2006-01-02 15:04:05 MST"), event.Message))

	// gomail 不支持 context，上层以固定投递超时兜底
	if err := ctx.Err(); err != nil {
		return err
	}

	d := gomail.NewDialer(c.Host, c.Port, c.Username, c.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	return nil
}
