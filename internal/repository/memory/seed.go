package memory

import "github.com/and161185/recipient-keeper/internal/model"

// Seed inserts a recipient directly, bypassing the merge engine, and returns its id.
func (s *Store) Seed(aci *model.ACI, pni *model.PNI, e164 *model.E164) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	s.st.recipients[id] = model.Recipient{ID: id, ACI: aci, PNI: pni, E164: e164}
	return id
}

// AddSession creates the 1:1 session of a recipient.
func (s *Store) AddSession(recipientID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	s.st.sessions[id] = Session{ID: id, DirectRecipientID: &recipientID}
	return id
}

// AddMessage appends a message; a zero sender means an outgoing message.
func (s *Store) AddMessage(sessionID, senderID int64, body string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	m := Message{ID: id, SessionID: sessionID, Body: body}
	if senderID != 0 {
		m.SenderID = &senderID
	}
	s.st.messages[id] = m
	return id
}

// AddMember adds a recipient to a legacy (v1) or current (v2) group.
func (s *Store) AddMember(v2 bool, groupID string, recipientID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	rows := s.st.groupV1
	if v2 {
		rows = s.st.groupV2
	}
	rows[id] = Membership{ID: id, GroupID: groupID, RecipientID: recipientID}
	return id
}

func (s *Store) AddReaction(messageID, authorID int64, emoji string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	s.st.reactions[id] = Reaction{ID: id, MessageID: messageID, AuthorID: authorID, Emoji: emoji}
	return id
}

func (s *Store) AddReceipt(messageID, recipientID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	s.st.receipts[id] = Receipt{ID: id, MessageID: messageID, RecipientID: recipientID}
	return id
}

func (s *Store) AddCall(sessionID, ringerID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.st.newID()
	s.st.calls[id] = Call{ID: id, SessionID: sessionID, RingerID: ringerID}
	return id
}

// Recipients returns the committed recipients ordered by id.
func (s *Store) Recipients() []model.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.recipients)
}

func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.sessions)
}

func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.messages)
}

// Members returns group_v1_members or group_v2_members rows.
func (s *Store) Members(v2 bool) []Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v2 {
		return sortedValues(s.st.groupV2)
	}
	return sortedValues(s.st.groupV1)
}

func (s *Store) Reactions() []Reaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.reactions)
}

func (s *Store) Receipts() []Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.receipts)
}

func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedValues(s.st.calls)
}
