package mailer

import (
	"sync"
)

type SentEmail struct {
	Recipient    string
	TemplateFile string
	Data         any
	Rendered     *Rendered
}

// MockMailer renders every message like SMTPMailer does but keeps it in memory.
type MockMailer struct {
	mu      sync.Mutex
	emails  []SentEmail
	failErr error
}

func NewMockMailer() *MockMailer {
	return &MockMailer{}
}

// FailWith makes every following Send return err. A nil err restores delivery.
func (m *MockMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failErr = err
}

func (m *MockMailer) Send(recipient, templateFile string, data any) error {
	rendered, err := Render(templateFile, data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}

	m.emails = append(m.emails, SentEmail{
		Recipient:    recipient,
		TemplateFile: templateFile,
		Data:         data,
		Rendered:     rendered,
	})

	return nil
}

func (m *MockMailer) GetSentEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]SentEmail(nil), m.emails...)
}
