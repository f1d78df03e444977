package engine

// AnswerBuffer holds the user's unsubmitted code per question for one session.
// It is owned by a single Machine and is not safe for concurrent use.
type AnswerBuffer struct {
	drafts    map[string]string
	templates map[string]string
}

// NewAnswerBuffer returns an empty buffer. templates supplies the starting code
// Get falls back to for questions that were never seeded; it may be nil.
func NewAnswerBuffer(templates map[string]string) *AnswerBuffer {
	b := &AnswerBuffer{
		drafts:    make(map[string]string),
		templates: make(map[string]string, len(templates)),
	}
	for id, code := range templates {
		b.templates[id] = code
	}
	return b
}

// Set overwrites the draft for questionID.
func (b *AnswerBuffer) Set(questionID, text string) {
	b.drafts[questionID] = text
}

// Get returns the draft for questionID, or its template when it was never touched.
func (b *AnswerBuffer) Get(questionID string) string {
	if d, ok := b.drafts[questionID]; ok {
		return d
	}
	return b.templates[questionID]
}

// SeedIfAbsent initializes the draft with templateCode only if none exists.
// It reports whether seeding happened.
func (b *AnswerBuffer) SeedIfAbsent(questionID, templateCode string) bool {
	if _, ok := b.drafts[questionID]; ok {
		return false
	}
	if _, ok := b.templates[questionID]; !ok {
		b.templates[questionID] = templateCode
	}
	b.drafts[questionID] = templateCode
	return true
}

// Seeded reports whether questionID has a draft.
func (b *AnswerBuffer) Seeded(questionID string) bool {
	_, ok := b.drafts[questionID]
	return ok
}

// Len returns the number of drafts held.
func (b *AnswerBuffer) Len() int {
	return len(b.drafts)
}
