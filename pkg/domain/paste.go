package domain

const (
	MaxURLLength      = 250
	MaxContentLength  = 200_000
	MaxPasswordLength = 250
)

// Paste is the persisted record. PasswordHash and ID never leave the service.
type Paste struct {
	ID            int64  `json:"-"`
	URL           string `json:"url"`
	Content       string `json:"content"`
	PasswordHash  string `json:"-"`
	DatePublished int64  `json:"date_published"`
	DateEdited    int64  `json:"date_edited"`
}

func (p *Paste) View() *PasteView {
	return &PasteView{
		URL:           p.URL,
		Content:       p.Content,
		DatePublished: p.DatePublished,
		DateEdited:    p.DateEdited,
	}
}

// PasteView is the client-facing subset of a Paste.
type PasteView struct {
	URL           string `json:"url"`
	Content       string `json:"content"`
	DatePublished int64  `json:"date_published"`
	DateEdited    int64  `json:"date_edited"`
}

// NewPaste carries user input for creation and for the new state of an update.
// Empty URL or Password means "generate" on create and "keep" on update.
type NewPaste struct {
	URL      string `json:"url"`
	Content  string `json:"content"`
	Password string `json:"password"`
}

type Credentials struct {
	URL      string `json:"url"`
	Password string `json:"password"`
}

// Created is returned once from Create; the plaintext password cannot be recovered later.
type Created struct {
	URL      string `json:"url"`
	Password string `json:"password"`
}

// PasteFields are the mutable columns written by an update.
type PasteFields struct {
	URL          string
	Content      string
	PasswordHash string
	DateEdited   int64
}
