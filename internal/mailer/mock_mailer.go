package mailer

import (
	"bytes"
	"html/template"
	"strings"
	"sync"
)

// Email is a message captured by MockMailer. Subject holds the rendered
// subject block so tests notice data the template cannot use.
type Email struct {
	Recipient    string
	TemplateFile string
	Subject      string
	Data         any
}

// MockMailer renders and records mail instead of delivering it.
type MockMailer struct {
	mu     sync.RWMutex
	emails []Email
	err    error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{
		emails: make([]Email, 0),
	}
}

func (m *MockMailer) Send(recipient, templateFile string, data any) error {
	tmpl, err := template.New("email").ParseFS(templateFS, "templates/"+templateFile)
	if err != nil {
		return err
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.emails = append(m.emails, Email{
		Recipient:    recipient,
		TemplateFile: templateFile,
		Subject:      strings.TrimSpace(subject.String()),
		Data:         data,
	})

	return nil
}

// FailWith makes every later Send return err; nil restores delivery.
func (m *MockMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.err = err
}

func (m *MockMailer) GetSentEmails() []Email {
	m.mu.RLock()
	defer m.mu.RUnlock()

	emails := make([]Email, len(m.emails))
	copy(emails, m.emails)
	return emails
}

// SentWith returns the captured mail rendered from templateFile.
func (m *MockMailer) SentWith(templateFile string) []Email {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Email, 0)
	for _, e := range m.emails {
		if e.TemplateFile == templateFile {
			out = append(out, e)
		}
	}

	return out
}

func (m *MockMailer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.emails = make([]Email, 0)
	m.err = nil
}
