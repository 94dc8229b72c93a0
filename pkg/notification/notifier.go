package notification

// NotificationSystem represents a type of notification system (e.g., email, SMS).
type NotificationSystem string

// NoticeType represents a type of notification (e.g., "signup_otp").
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
	SMSSystem   NotificationSystem = "sms"
)

// Notice types sent by the auth service
const (
	SignupOTPNotice     NoticeType = "signup_otp"
	LoginOTPNotice      NoticeType = "login_otp"
	PasswordResetNotice NoticeType = "password_reset"
)

// NoticeTemplate holds the subject and body template for a notice
type NoticeTemplate struct {
	Subject string
	Text    string
}

// NotificationData carries the recipient and template data for a notice
type NotificationData struct {
	To   string            // Recipient identifier (e.g., email address, phone number)
	Data map[string]string // Template data (e.g., the OTP code or reset token)
}

// Notifier delivers a rendered notice to a recipient
type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
