package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	logx "casewatch/pkg/logx"
)

// MailOptions configures the SMTP sender. Zero values fall back to the
// documented defaults.
type MailOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSPolicy string // "opportunistic" (default), "mandatory", "none"

	// SendTimeout bounds one dial+send. Default 10s.
	SendTimeout time.Duration
	// RatePerSec caps outbound sends. Default 1.
	RatePerSec int
}

// Mailer delivers reminders over SMTP. One dial per send; the reminder
// loop is low-volume so connection reuse is not worth the state.
type Mailer struct {
	opts    MailOptions
	limiter *rate.Limiter
	log     logx.Logger
}

func NewMailer(opts MailOptions, log logx.Logger) (*Mailer, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("mail: host is required")
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 1
	}
	if _, err := tlsPolicy(opts.TLSPolicy); err != nil {
		return nil, err
	}
	return &Mailer{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		log:     log,
	}, nil
}

func tlsPolicy(s string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "opportunistic":
		return gomail.TLSOpportunistic, nil
	case "mandatory":
		return gomail.TLSMandatory, nil
	case "none":
		return gomail.NoTLS, nil
	default:
		return 0, fmt.Errorf("mail: unknown tls_policy %q", s)
	}
}

func (m *Mailer) client() (*gomail.Client, error) {
	policy, err := tlsPolicy(m.opts.TLSPolicy)
	if err != nil {
		return nil, err
	}
	copts := []gomail.Option{
		gomail.WithPort(m.opts.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(m.opts.SendTimeout),
	}
	if m.opts.Username != "" {
		copts = append(copts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(m.opts.Username),
			gomail.WithPassword(m.opts.Password),
		)
	}
	return gomail.NewClient(m.opts.Host, copts...)
}

func (m *Mailer) Send(ctx context.Context, to, from string, n Notice) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail: rate wait: %w", err)
	}

	msg := gomail.NewMsg()
	if err := msg.From(from); err != nil {
		return fmt.Errorf("mail: from %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("mail: to %q: %w", to, err)
	}
	msg.Subject(Subject(n))
	msg.SetBodyString(gomail.TypeTextPlain, Body(n))

	c, err := m.client()
	if err != nil {
		return fmt.Errorf("mail: client: %w", err)
	}

	sctx, cancel := context.WithTimeout(ctx, m.opts.SendTimeout)
	defer cancel()
	if err := c.DialAndSendWithContext(sctx, msg); err != nil {
		return fmt.Errorf("mail: send case %d: %w", n.CaseID, err)
	}
	m.log.Debug("reminder mail sent",
		logx.Int64("case_id", n.CaseID),
		logx.String("hearing", string(n.Hearing)),
		logx.String("to", to),
	)
	return nil
}
