package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"os"
	"regexp"
	"strings"
	"time"
)

// Notifier is one alert channel. Send delivers a single event; failures
// are the channel's own problem and must never reach the monitor.
type Notifier interface {
	Send(event string, status *UPSStatus, message string) error
}

// MultiNotifier fans an event out to an ordered list of channels. Each
// channel's failure is logged and swallowed so one broken channel can
// never block or fail another's attempt.
type MultiNotifier struct {
	channels []Notifier
}

func NewMultiNotifier(channels ...Notifier) *MultiNotifier {
	return &MultiNotifier{channels: channels}
}

func (m *MultiNotifier) Send(event string, status *UPSStatus, message string) error {
	for _, ch := range m.channels {
		if err := ch.Send(event, status, message); err != nil {
			logger.Error().Err(err).Str("event", event).
				Str("channel", fmt.Sprintf("%T", ch)).Msg("notification channel failed")
		}
	}
	return nil
}

// Registry maps friendly recipient names to Discord IDs and email
// addresses. Built once at startup and passed by reference; never
// mutated afterwards.
type Registry struct {
	Channels        map[string]string
	Users           map[string]string
	EmailRecipients map[string]string
}

var (
	discordChannelVar = regexp.MustCompile(`^DISCORD_CHANNEL_([A-Za-z0-9_-]+)=(.*)$`)
	discordUserVar    = regexp.MustCompile(`^DISCORD_USER_([A-Za-z0-9_-]+)=(.*)$`)
	emailToVar        = regexp.MustCompile(`^EMAIL_TO_([A-Za-z0-9_-]+)=(.*)$`)
)

// NewRegistryFromEnv builds the recipient registry from
// DISCORD_CHANNEL_<NAME>, DISCORD_USER_<NAME> and EMAIL_TO_<NAME>
// variables. Names are matched case-insensitively.
func NewRegistryFromEnv() *Registry {
	reg := &Registry{
		Channels:        map[string]string{},
		Users:           map[string]string{},
		EmailRecipients: map[string]string{},
	}
	for _, kv := range os.Environ() {
		if m := discordChannelVar.FindStringSubmatch(kv); m != nil {
			reg.Channels[strings.ToLower(m[1])] = m[2]
		} else if m := discordUserVar.FindStringSubmatch(kv); m != nil {
			reg.Users[strings.ToLower(m[1])] = m[2]
		} else if m := emailToVar.FindStringSubmatch(kv); m != nil {
			reg.EmailRecipients[strings.ToLower(m[1])] = m[2]
		}
	}
	return reg
}

const discordAPIBase = "https://discord.com/api/v10"

// DiscordNotifier delivers alerts over the Discord REST API: a DM to
// each configured user, plus an optional message to a named channel
// mentioning those users.
type DiscordNotifier struct {
	Token    string
	Users    []string
	Channel  string
	Registry *Registry

	// BaseURL points at Discord in production; tests swap in a local server.
	BaseURL string
	Client  *http.Client
}

func NewDiscordNotifier(token string, users []string, channel string, reg *Registry) *DiscordNotifier {
	return &DiscordNotifier{
		Token:    token,
		Users:    users,
		Channel:  channel,
		Registry: reg,
		BaseURL:  discordAPIBase,
		Client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *DiscordNotifier) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, d.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+d.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("discord: %s returned %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// dm opens the DM channel for a user ID and posts the message.
func (d *DiscordNotifier) dm(userID, message string) error {
	var ch struct {
		ID string `json:"id"`
	}
	if err := d.post("/users/@me/channels", map[string]string{"recipient_id": userID}, &ch); err != nil {
		return err
	}
	return d.post("/channels/"+ch.ID+"/messages", map[string]string{"content": message}, nil)
}

func (d *DiscordNotifier) Send(event string, status *UPSStatus, message string) error {
	if d.Token == "" {
		return fmt.Errorf("discord: bot token not configured")
	}

	var failures []string

	var mentionIDs []string
	for _, name := range d.Users {
		id, ok := d.Registry.Users[strings.ToLower(name)]
		if !ok {
			failures = append(failures, fmt.Sprintf("unknown user %q", name))
			continue
		}
		mentionIDs = append(mentionIDs, id)
		if err := d.dm(id, message); err != nil {
			failures = append(failures, fmt.Sprintf("dm @%s: %v", name, err))
		}
	}

	if d.Channel != "" {
		if chID, ok := d.Registry.Channels[strings.ToLower(d.Channel)]; ok {
			payload := map[string]any{"content": message}
			if len(mentionIDs) > 0 {
				mentions := make([]string, len(mentionIDs))
				for i, id := range mentionIDs {
					mentions[i] = "<@" + id + ">"
				}
				payload["content"] = strings.Join(mentions, " ") + " " + message
				payload["allowed_mentions"] = map[string]any{"users": mentionIDs}
			}
			if err := d.post("/channels/"+chID+"/messages", payload, nil); err != nil {
				failures = append(failures, fmt.Sprintf("#%s: %v", d.Channel, err))
			}
		} else {
			failures = append(failures, fmt.Sprintf("unknown channel %q", d.Channel))
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("discord: %s", strings.Join(failures, "; "))
	}
	return nil
}

// EmailNotifier delivers alerts over SMTP with STARTTLS, one message per
// recipient so a bad address cannot sink the rest.
type EmailNotifier struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string

	// sendMail stands in for smtp.SendMail in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifierFromEnv reads the SMTP settings the deployment
// provides: SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS, EMAIL_FROM.
func NewEmailNotifierFromEnv(to []string) (*EmailNotifier, error) {
	pass := os.Getenv("SMTP_PASS")
	from := os.Getenv("EMAIL_FROM")
	if pass == "" {
		return nil, fmt.Errorf("email: SMTP_PASS not configured")
	}
	if from == "" {
		return nil, fmt.Errorf("email: EMAIL_FROM not configured")
	}
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		host = "smtp.resend.com"
	}
	port := 587
	if p := os.Getenv("SMTP_PORT"); p != "" {
		fmt.Sscanf(p, "%d", &port)
	}
	user := os.Getenv("SMTP_USER")
	if user == "" {
		user = "resend"
	}
	return &EmailNotifier{
		Host:     host,
		Port:     port,
		Username: user,
		Password: pass,
		From:     from,
		To:       to,
		sendMail: smtp.SendMail,
	}, nil
}

func (e *EmailNotifier) Send(event string, status *UPSStatus, message string) error {
	if len(e.To) == 0 {
		return fmt.Errorf("email: no recipients configured")
	}
	addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
	auth := smtp.PlainAuth("", e.Username, e.Password, e.Host)
	subject := "UPS: " + event

	var failures []string
	for _, to := range e.To {
		msg := []byte("From: " + e.From + "\r\n" +
			"To: " + to + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"\r\n" +
			message + "\r\n")
		if err := e.sendMail(addr, auth, e.From, []string{to}, msg); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", to, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("email: %s", strings.Join(failures, "; "))
	}
	return nil
}
