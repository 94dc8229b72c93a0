package notice

import (
	"embed"
	"log/slog"

	"github.com/platformid/simple-auth/pkg/notification"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

func registerTemplates(nm *notification.NotificationManager) error {
	notices := []struct {
		noticeType notification.NoticeType
		subject    string
		file       string
	}{
		{notification.SignupOTPNotice, "Verify your email", "templates/email/signup_otp.tmpl"},
		{notification.LoginOTPNotice, "Your login code", "templates/email/login_otp.tmpl"},
		{notification.PasswordResetNotice, "Password reset request", "templates/email/password_reset.tmpl"},
	}

	for _, n := range notices {
		err := nm.RegisterNotification(n.noticeType, notification.EmailSystem, notification.NoticeTemplate{
			Subject: n.subject,
			Text:    loadTemplate(n.file),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// NewNotificationManager creates a notification manager with an SMTP email
// notifier and the auth notice templates registered.
func NewNotificationManager(smtpConfig notification.SMTPConfig) (*notification.NotificationManager, error) {
	nm := notification.NewNotificationManager()

	emailNotifier, err := notification.NewEmailNotifier(smtpConfig)
	if err != nil {
		return nil, err
	}
	nm.RegisterNotifier(notification.EmailSystem, emailNotifier)

	if err := registerTemplates(nm); err != nil {
		return nil, err
	}
	return nm, nil
}

// NewMockNotificationManager creates a notification manager backed by a mock
// notifier. Used in tests and when SMTP is not configured.
func NewMockNotificationManager() (*notification.NotificationManager, *notification.MockNotifier, error) {
	nm := notification.NewNotificationManager()

	mock := &notification.MockNotifier{}
	nm.RegisterNotifier(notification.EmailSystem, mock)

	if err := registerTemplates(nm); err != nil {
		return nil, nil, err
	}
	return nm, mock, nil
}
